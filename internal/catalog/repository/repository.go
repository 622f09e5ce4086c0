package repository

import (
	"github.com/smallbiznis/invoicer/internal/catalog/domain"
	"github.com/smallbiznis/invoicer/pkg/repository"
	"gorm.io/gorm"
)

func Provide(db *gorm.DB) repository.Repository[domain.Item] {
	return repository.ProvideStore[domain.Item](db)
}
