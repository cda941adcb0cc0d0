package domain

import "strings"

// Customer - контактные данные покупателя. Все поля обязательны.
type Customer struct {
	Name       string
	Email      string
	Address    string
	City       string
	PostalCode string
}

// Normalize возвращает копию с обрезанными пробелами.
func (c Customer) Normalize() Customer {
	return Customer{
		Name:       strings.TrimSpace(c.Name),
		Email:      strings.TrimSpace(c.Email),
		Address:    strings.TrimSpace(c.Address),
		City:       strings.TrimSpace(c.City),
		PostalCode: strings.TrimSpace(c.PostalCode),
	}
}

// Validate проверяет, что после обрезки пробелов ни одно поле не пустое.
func (c Customer) Validate() *ValidationError {
	n := c.Normalize()
	verr := &ValidationError{}
	required := []struct {
		field string
		value string
	}{
		{"customer.name", n.Name},
		{"customer.email", n.Email},
		{"customer.address", n.Address},
		{"customer.city", n.City},
		{"customer.zip", n.PostalCode},
	}
	for _, r := range required {
		if r.value == "" {
			verr.Add(r.field, "is required")
		}
	}
	if verr.Empty() {
		return nil
	}
	return verr
}
