package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func (a *API) listProducts(w http.ResponseWriter, r *http.Request) {
	logger := a.entry(r)

	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, logger, err, "Failed to list products")
		return
	}

	products, err := a.catalog.List(r.Context(), domain.ProductFilter{
		Category: r.URL.Query().Get("category"),
		Limit:    limit,
	})
	if err != nil {
		writeError(w, logger, err, "Failed to list products")
		return
	}

	result := make([]productDTO, 0, len(products))
	for _, p := range products {
		result = append(result, toProductDTO(p))
	}
	writeJSON(w, logger, http.StatusOK, result)
}

func (a *API) getProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	logger := a.entry(r).WithField("product_id", id)

	product, err := a.catalog.Get(r.Context(), id)
	if err != nil {
		writeError(w, logger, err, "Failed to load product")
		return
	}
	writeJSON(w, logger, http.StatusOK, toProductDTO(product))
}

func (a *API) createProduct(w http.ResponseWriter, r *http.Request) {
	logger := a.entry(r)

	req, err := decodeProduct(r)
	if err != nil {
		writeError(w, logger, err, "Failed to create product")
		return
	}

	product, err := a.catalog.Create(r.Context(), req.toDomain(""))
	if err != nil {
		writeError(w, logger, err, "Failed to create product")
		return
	}

	w.Header().Set("Location", "/api/products/"+product.ID)
	writeJSON(w, logger, http.StatusCreated, toProductDTO(product))
}

func (a *API) updateProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	logger := a.entry(r).WithField("product_id", id)

	req, err := decodeProduct(r)
	if err != nil {
		writeError(w, logger, err, "Failed to update product")
		return
	}

	product, err := a.catalog.Update(r.Context(), req.toDomain(id))
	if err != nil {
		writeError(w, logger, err, "Failed to update product")
		return
	}
	writeJSON(w, logger, http.StatusOK, toProductDTO(product))
}

func (a *API) deleteProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	logger := a.entry(r).WithField("product_id", id)

	if err := a.catalog.Delete(r.Context(), id); err != nil {
		writeError(w, logger, err, "Failed to delete product")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeProduct(r *http.Request) (productRequest, error) {
	var req productRequest
	if err := DecodeAndValidate(r, &req); err != nil {
		return productRequest{}, err
	}
	if req.Price == nil && req.PriceMinor == nil {
		return productRequest{}, domain.NewValidationError("price", "is required")
	}
	return req, nil
}
