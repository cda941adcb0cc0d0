// Package version хранит сведения о сборке, заданные через -ldflags.
package version

import "fmt"

const product = "storefront"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// GetVersion возвращает версию сборки.
func GetVersion() string { return version }

// String описывает сборку одной строкой для логов при старте.
func String() string {
	return fmt.Sprintf("%s version=%s commit=%s date=%s", product, version, commit, date)
}

// UserAgent - значение User-Agent для HTTP-клиентов утилит, например
// "storefront-loadtest/1.4.0".
func UserAgent(tool string) string {
	if tool == "" {
		return product + "/" + version
	}
	return product + "-" + tool + "/" + version
}
