package services

import (
	"context"
	"math/rand"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func TestAccountAllocator_Generate(t *testing.T) {
	allocator := NewAccountAllocator(rand.New(rand.NewSource(1)))

	t.Run("twelve digits", func(t *testing.T) {
		number := allocator.Generate()
		assert.Len(t, number, 12)
		assert.Regexp(t, `^\d{12}$`, number)
	})

	t.Run("deterministic with fixed seed", func(t *testing.T) {
		a := NewAccountAllocator(rand.New(rand.NewSource(42)))
		b := NewAccountAllocator(rand.New(rand.NewSource(42)))
		assert.Equal(t, a.Generate(), b.Generate())
	})
}

func TestAccountAllocator_AllocateUnique(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	allocator := NewAccountAllocator(rand.New(rand.NewSource(1)))

	t.Run("returns first free number", func(t *testing.T) {
		mock.ExpectQuery("SELECT EXISTS").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		number, err := allocator.AllocateUnique(context.Background(), db)
		assert.NoError(t, err)
		assert.Regexp(t, `^\d{12}$`, number)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("retries on collision", func(t *testing.T) {
		mock.ExpectQuery("SELECT EXISTS").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectQuery("SELECT EXISTS").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		number, err := allocator.AllocateUnique(context.Background(), db)
		assert.NoError(t, err)
		assert.Regexp(t, `^\d{12}$`, number)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
