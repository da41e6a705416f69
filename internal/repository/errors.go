package repository

import "errors"

// ErrNotFound — в хранилище нет сессии по ключу (или она истекла).
var ErrNotFound = errors.New("repository: session not found")
