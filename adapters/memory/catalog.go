package memory

import (
	"github.com/fatewise/fatewise/domain/plan"
	"github.com/fatewise/fatewise/ports"
)

// StaticCatalog wraps a fixed catalog as a ports.CatalogSource. Used by
// one-shot commands and tests that have no config hot reload.
func StaticCatalog(c *plan.Catalog) ports.CatalogSource {
	return staticCatalog{c: c}
}

type staticCatalog struct {
	c *plan.Catalog
}

func (s staticCatalog) Catalog() *plan.Catalog { return s.c }
