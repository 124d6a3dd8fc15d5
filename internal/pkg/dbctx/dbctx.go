package dbctx

import (
	"context"

	"gorm.io/gorm"
)

// Context carries a cancellation context and an optional transaction into
// repository calls. A nil Tx means the repository uses its own handle; stages
// that must commit atomically pass the shared transaction instead.
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}
