// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/johnolamide/echo-mcp-server/internal/service"
)

// ErrDuplicateService is returned when an active descriptor with the same
// (name, type) pair already exists.
var ErrDuplicateService = errors.New("store: active service with this name and type already exists")

const descriptorColumns = `id, name, type, description, api_base_url, api_endpoint, http_method,
	request_template, response_mapping, headers_template, encrypted_api_key, api_key_header,
	timeout_seconds, retry_attempts, is_active, created_by, created_at, updated_at`

func scanDescriptor(row interface{ Scan(...any) error }) (*service.Descriptor, error) {
	var d service.Descriptor
	var reqTmpl string
	var respMap, headersTmpl, apiKey, apiKeyHeader sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&d.ID, &d.Name, &d.Type, &d.Description, &d.APIBaseURL, &d.APIEndpoint, &d.HTTPMethod,
		&reqTmpl, &respMap, &headersTmpl, &apiKey, &apiKeyHeader,
		&d.TimeoutSeconds, &d.RetryAttempts, &d.IsActive, &d.CreatedBy, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan descriptor: %w", err)
	}

	if err := json.Unmarshal([]byte(reqTmpl), &d.RequestTemplate); err != nil {
		return nil, fmt.Errorf("decode request_template: %w", err)
	}
	if respMap.Valid && respMap.String != "" {
		if err := json.Unmarshal([]byte(respMap.String), &d.ResponseMapping); err != nil {
			return nil, fmt.Errorf("decode response_mapping: %w", err)
		}
	}
	if headersTmpl.Valid && headersTmpl.String != "" {
		if err := json.Unmarshal([]byte(headersTmpl.String), &d.HeadersTemplate); err != nil {
			return nil, fmt.Errorf("decode headers_template: %w", err)
		}
	}
	d.EncryptedAPIKey = apiKey.String
	d.APIKeyHeader = apiKeyHeader.String
	d.CreatedAt = parseTime(createdAt)
	d.UpdatedAt = parseTime(updatedAt)
	return &d, nil
}

func encodeJSONColumn(v map[string]any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

// CreateService inserts a descriptor after validating its shape and the
// (name, type) uniqueness invariant among active rows.
func (s *Store) CreateService(ctx context.Context, d *service.Descriptor) (*service.Descriptor, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if d.IsActive {
		if taken, err := s.serviceNameTaken(ctx, d.Name, d.Type, 0); err != nil {
			return nil, err
		} else if taken {
			return nil, ErrDuplicateService
		}
	}

	reqTmpl, err := json.Marshal(d.RequestTemplate)
	if err != nil {
		return nil, fmt.Errorf("encode request_template: %w", err)
	}
	respMap, err := encodeJSONColumn(d.ResponseMapping)
	if err != nil {
		return nil, fmt.Errorf("encode response_mapping: %w", err)
	}
	headersTmpl, err := encodeJSONColumn(d.HeadersTemplate)
	if err != nil {
		return nil, fmt.Errorf("encode headers_template: %w", err)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO services (name, type, description, api_base_url, api_endpoint, http_method,
			request_template, response_mapping, headers_template, encrypted_api_key, api_key_header,
			timeout_seconds, retry_attempts, is_active, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Name, d.Type, d.Description, d.APIBaseURL, d.APIEndpoint, d.HTTPMethod,
		string(reqTmpl), respMap, headersTmpl, nullable(d.EncryptedAPIKey), nullable(d.APIKeyHeader),
		d.TimeoutSeconds, d.RetryAttempts, d.IsActive, d.CreatedBy, formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert service: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert service id: %w", err)
	}
	out := *d
	out.ID = id
	out.CreatedAt = now
	out.UpdatedAt = now
	return &out, nil
}

// GetService fetches one descriptor by ID.
func (s *Store) GetService(ctx context.Context, id int64) (*service.Descriptor, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+descriptorColumns+" FROM services WHERE id = ?", id)
	return scanDescriptor(row)
}

// ListServices returns descriptors, optionally including inactive ones.
func (s *Store) ListServices(ctx context.Context, includeInactive bool, limit, offset int) ([]*service.Descriptor, error) {
	query := "SELECT " + descriptorColumns + " FROM services"
	if !includeInactive {
		query += " WHERE is_active = 1"
	}
	query += " ORDER BY id LIMIT ? OFFSET ?"

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*service.Descriptor
	for rows.Next() {
		d, err := scanDescriptor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpdateService replaces a descriptor's mutable fields. The (name, type)
// uniqueness invariant is re-checked against other active rows.
func (s *Store) UpdateService(ctx context.Context, d *service.Descriptor) (*service.Descriptor, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if d.IsActive {
		if taken, err := s.serviceNameTaken(ctx, d.Name, d.Type, d.ID); err != nil {
			return nil, err
		} else if taken {
			return nil, ErrDuplicateService
		}
	}

	reqTmpl, err := json.Marshal(d.RequestTemplate)
	if err != nil {
		return nil, fmt.Errorf("encode request_template: %w", err)
	}
	respMap, err := encodeJSONColumn(d.ResponseMapping)
	if err != nil {
		return nil, fmt.Errorf("encode response_mapping: %w", err)
	}
	headersTmpl, err := encodeJSONColumn(d.HeadersTemplate)
	if err != nil {
		return nil, fmt.Errorf("encode headers_template: %w", err)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE services SET name = ?, type = ?, description = ?, api_base_url = ?, api_endpoint = ?,
			http_method = ?, request_template = ?, response_mapping = ?, headers_template = ?,
			encrypted_api_key = ?, api_key_header = ?, timeout_seconds = ?, retry_attempts = ?,
			is_active = ?, updated_at = ?
		WHERE id = ?`,
		d.Name, d.Type, d.Description, d.APIBaseURL, d.APIEndpoint,
		d.HTTPMethod, string(reqTmpl), respMap, headersTmpl,
		nullable(d.EncryptedAPIKey), nullable(d.APIKeyHeader), d.TimeoutSeconds, d.RetryAttempts,
		d.IsActive, formatTime(now), d.ID)
	if err != nil {
		return nil, fmt.Errorf("update service: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update service: %w", err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	out := *d
	out.UpdatedAt = now
	return &out, nil
}

// DeactivateService soft-deletes a descriptor. Preferred over hard delete
// where execution history references it.
func (s *Store) DeactivateService(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE services SET is_active = 0, updated_at = ? WHERE id = ?",
		formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("deactivate service: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate service: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteService removes a descriptor row entirely.
func (s *Store) DeleteService(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM services WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete service: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete service: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) serviceNameTaken(ctx context.Context, name, typ string, excludeID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM services WHERE name = ? AND type = ? AND is_active = 1 AND id != ?",
		name, typ, excludeID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query service uniqueness: %w", err)
	}
	return n > 0, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
