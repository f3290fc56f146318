package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/lms-api/internal/domain"
)

// FileRepository persists metadata of uploaded files.
type FileRepository interface {
	Create(ctx context.Context, file *domain.StoredFile) error
	ListByCourse(ctx context.Context, courseID string) ([]domain.StoredFile, error)
}

type fileRepository struct {
	pool *pgxpool.Pool
}

// NewFileRepository constructs repository.
func NewFileRepository(pool *pgxpool.Pool) FileRepository {
	return &fileRepository{pool: pool}
}

func (r *fileRepository) Create(ctx context.Context, file *domain.StoredFile) error {
	const query = `
        INSERT INTO stored_files (file_name, original_name, course_id, url, mime_type, size_bytes, uploaded_by)
        VALUES ($1,$2,NULLIF($3,''),$4,$5,$6,NULLIF($7,'')::uuid)
        RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query,
		file.Name,
		file.OriginalName,
		file.CourseID,
		file.URL,
		file.ContentType,
		file.Size,
		file.UploadedBy,
	).Scan(&file.ID, &file.StoredAt)
}

func (r *fileRepository) ListByCourse(ctx context.Context, courseID string) ([]domain.StoredFile, error) {
	const query = `
        SELECT id, file_name, original_name, course_id, url, mime_type, size_bytes, created_at
        FROM stored_files WHERE course_id=$1
        ORDER BY created_at`
	rows, err := r.pool.Query(ctx, query, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.StoredFile{}
	for rows.Next() {
		var file domain.StoredFile
		if err := rows.Scan(
			&file.ID,
			&file.Name,
			&file.OriginalName,
			&file.CourseID,
			&file.URL,
			&file.ContentType,
			&file.Size,
			&file.StoredAt,
		); err != nil {
			return nil, err
		}
		result = append(result, file)
	}
	return result, rows.Err()
}
