package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	apperrors "github.com/wengyuechuan/rag-backend/internal/errors"
)

// newMockDB 基于sqlmock构造gorm连接
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 db,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return gdb, mock
}

func TestKnowledgeBaseRepoGetByID(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewKnowledgeBaseRepository(gdb)

	rows := sqlmock.NewRows([]string{"knowledge_base_id", "name", "default_chunk_size", "default_chunk_overlap"}).
		AddRow(1, "测试库", 500, 100)
	mock.ExpectQuery(`SELECT \* FROM "knowledge_bases" WHERE knowledge_base_id = \$1`).
		WithArgs(1, 1).
		WillReturnRows(rows)

	kb, err := repo.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, uint(1), kb.KnowledgeBaseID)
	assert.Equal(t, "测试库", kb.Name)
	assert.Equal(t, 500, kb.DefaultChunkSize)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKnowledgeBaseRepoGetByIDNotFound(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewKnowledgeBaseRepository(gdb)

	mock.ExpectQuery(`SELECT \* FROM "knowledge_bases"`).
		WillReturnRows(sqlmock.NewRows([]string{"knowledge_base_id"}))

	_, err := repo.GetByID(context.Background(), 42)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeResourceNotFound))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKnowledgeBaseRepoList(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewKnowledgeBaseRepository(gdb)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "knowledge_bases"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(`SELECT \* FROM "knowledge_bases" ORDER BY knowledge_base_id DESC`).
		WillReturnRows(sqlmock.NewRows([]string{"knowledge_base_id", "name"}).
			AddRow(2, "库二").
			AddRow(1, "库一"))

	knowledgeBases, total, err := repo.List(context.Background(), 1, 20, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, knowledgeBases, 2)
	assert.Equal(t, "库二", knowledgeBases[0].Name)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKnowledgeBaseRepoListWithSearch(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewKnowledgeBaseRepository(gdb)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "knowledge_bases" WHERE name ILIKE \$1 OR description ILIKE \$2`).
		WithArgs("%检索%", "%检索%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT \* FROM "knowledge_bases" WHERE name ILIKE \$1 OR description ILIKE \$2`).
		WithArgs("%检索%", "%检索%").
		WillReturnRows(sqlmock.NewRows([]string{"knowledge_base_id", "name"}).AddRow(3, "检索库"))

	knowledgeBases, total, err := repo.List(context.Background(), 1, 20, "检索")
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, knowledgeBases, 1)
	assert.Equal(t, "检索库", knowledgeBases[0].Name)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKnowledgeBaseRepoUpdate(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewKnowledgeBaseRepository(gdb)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "knowledge_bases" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Update(context.Background(), 1, map[string]interface{}{"name": "新名"})
	require.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKnowledgeBaseRepoDelete(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewKnowledgeBaseRepository(gdb)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "knowledge_bases" WHERE knowledge_base_id = \$1`).
		WithArgs(1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Delete(context.Background(), 1))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKnowledgeBaseRepoAddAggregates(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewKnowledgeBaseRepository(gdb)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "knowledge_bases" SET "document_count"=document_count \+ \$1`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.AddAggregates(context.Background(), 1, 1, 5))
	assert.NoError(t, mock.ExpectationsWereMet())
}
