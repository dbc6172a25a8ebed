// Package template resolves notification templates by type, joining
// file-backed content with relational subject overrides, with an in-process
// cache invalidated synchronously by the administrative edit path.
package template

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"memberdeals-notifications/internal/common/errors"
	"memberdeals-notifications/internal/common/logger"
	"memberdeals-notifications/internal/models"
)

// Template types name files under the content dir, so anything beyond this
// shape is rejected before the filesystem is touched.
var validTemplateType = regexp.MustCompile(`^[a-z0-9_]+$`)

type Store struct {
	db         *sql.DB
	contentDir string
	logger     logger.Logger

	mu    sync.Mutex
	cache map[string]*models.Template
}

func NewStore(db *sql.DB, contentDir string, log logger.Logger) *Store {
	return &Store{
		db:         db,
		contentDir: contentDir,
		logger:     log.WithFields(map[string]interface{}{"component": "template-store"}),
		cache:      make(map[string]*models.Template),
	}
}

// Resolve returns the active template for templateType. Resolution order:
// cache, file-backed content joined with the relational subject, fully
// relational row. Successful resolutions are cached indefinitely.
func (s *Store) Resolve(ctx context.Context, templateType string) (*models.Template, error) {
	if !validTemplateType.MatchString(templateType) {
		return nil, errors.NewTemplateNotFoundError(templateType)
	}

	s.mu.Lock()
	if tpl, ok := s.cache[templateType]; ok {
		s.mu.Unlock()
		return tpl, nil
	}
	s.mu.Unlock()

	row, rowErr := s.lookupRow(ctx, templateType)

	if tpl, ok := s.lookupContent(templateType, row); ok {
		s.put(templateType, tpl)
		return tpl, nil
	}

	if rowErr != nil {
		if rowErr == sql.ErrNoRows {
			return nil, errors.NewTemplateNotFoundError(templateType)
		}
		return nil, errors.NewQueryExecutionFailedError("template lookup", rowErr)
	}
	if row == nil || !row.Active || (row.HTML == "" && row.Text == "") {
		return nil, errors.NewTemplateNotFoundError(templateType)
	}

	s.put(templateType, row)
	return row, nil
}

// Invalidate clears the cache entry for templateType so the next Resolve
// re-reads upstream sources. Called by the administrative edit path.
func (s *Store) Invalidate(templateType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, templateType)
}

// InvalidateAll clears the whole cache.
func (s *Store) InvalidateAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]*models.Template)
}

// Update upserts the relational template row and invalidates its cache entry.
func (s *Store) Update(ctx context.Context, tpl *models.Template) error {
	if !validTemplateType.MatchString(tpl.Type) {
		return errors.NewValidationError(fmt.Sprintf("invalid template type: %q", tpl.Type))
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO templates (type, subject, html, text, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (type) DO UPDATE
		SET subject = EXCLUDED.subject,
		    html = EXCLUDED.html,
		    text = EXCLUDED.text,
		    active = EXCLUDED.active`,
		tpl.Type, tpl.Subject, tpl.HTML, tpl.Text, tpl.Active,
	)
	if err != nil {
		return errors.NewQueryExecutionFailedError("template upsert", err)
	}

	s.Invalidate(tpl.Type)
	return nil
}

// List returns all relational template rows for the admin surface.
func (s *Store) List(ctx context.Context) ([]models.Template, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT type, subject, html, text, active FROM templates ORDER BY type`)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("template list", err)
	}
	defer rows.Close()

	var out []models.Template
	for rows.Next() {
		var tpl models.Template
		if err := rows.Scan(&tpl.Type, &tpl.Subject, &tpl.HTML, &tpl.Text, &tpl.Active); err != nil {
			return nil, errors.NewQueryExecutionFailedError("template scan", err)
		}
		out = append(out, tpl)
	}
	return out, rows.Err()
}

func (s *Store) put(templateType string, tpl *models.Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[templateType] = tpl
}

func (s *Store) lookupRow(ctx context.Context, templateType string) (*models.Template, error) {
	var tpl models.Template
	err := s.db.QueryRowContext(ctx,
		`SELECT type, subject, html, text, active FROM templates WHERE type = $1`,
		templateType,
	).Scan(&tpl.Type, &tpl.Subject, &tpl.HTML, &tpl.Text, &tpl.Active)
	if err != nil {
		return nil, err
	}
	return &tpl, nil
}

// lookupContent reads <contentDir>/<type>.html and <type>.txt. The relational
// row supplies the subject override when present; an inactive row disables the
// content-backed entry as well.
func (s *Store) lookupContent(templateType string, row *models.Template) (*models.Template, bool) {
	if s.contentDir == "" {
		return nil, false
	}

	htmlBytes, htmlErr := os.ReadFile(filepath.Join(s.contentDir, templateType+".html"))
	textBytes, textErr := os.ReadFile(filepath.Join(s.contentDir, templateType+".txt"))
	if htmlErr != nil && textErr != nil {
		return nil, false
	}

	if row != nil && !row.Active {
		return nil, false
	}

	tpl := &models.Template{
		Type:   templateType,
		HTML:   string(htmlBytes),
		Text:   string(textBytes),
		Active: true,
	}
	if row != nil && row.Subject != "" {
		tpl.Subject = row.Subject
	} else {
		tpl.Subject = defaultSubject(templateType)
	}
	return tpl, true
}

func defaultSubject(templateType string) string {
	words := strings.Split(strings.ReplaceAll(templateType, "_", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return fmt.Sprintf("MemberDeals: %s", strings.Join(words, " "))
}
