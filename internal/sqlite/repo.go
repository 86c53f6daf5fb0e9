package sqlite

import (
	"github.com/jmoiron/sqlx"

	"inkwell/internal/inkwell"
)

// Ensure Repo implements the Repository interface
var _ inkwell.Repository = (*Repo)(nil)

type Repo struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) Repo {
	return Repo{db: db}
}
