// Package recipe loads the recipe text a voice session answers questions
// about. The text is opaque to the rest of the system.
//
// A [Loader] dispatches a [Selector] to one of the sources: the recipe
// bundled with the binary, a file, raw text, a PostgreSQL [Store] or a Notion
// database.
package recipe

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Source selects where a recipe comes from.
type Source string

const (
	SourceBundled  Source = "bundled"
	SourceFile     Source = "file"
	SourceText     Source = "text"
	SourcePostgres Source = "postgres"
	SourceNotion   Source = "notion"
)

var (
	// ErrNotFound is returned when the selected recipe does not exist.
	ErrNotFound = errors.New("recipe: not found")

	// ErrEmpty is returned when the selected recipe has no text.
	ErrEmpty = errors.New("recipe: empty recipe")

	// ErrUnavailable is returned for a source that has not been configured.
	ErrUnavailable = errors.New("recipe: source not configured")

	// ErrUnknownSource is returned for a source name that does not exist or
	// does not support the operation.
	ErrUnknownSource = errors.New("recipe: unknown source")
)

// Selector identifies one recipe.
type Selector struct {
	Source Source `json:"source"`

	// Path is the file for SourceFile.
	Path string `json:"path,omitempty"`

	// Text is the recipe for SourceText.
	Text string `json:"text,omitempty"`

	// ID is a row id or title for SourcePostgres and a page id for
	// SourceNotion.
	ID string `json:"id,omitempty"`
}

// Recipe is a stored recipe.
type Recipe struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// Validate reports missing fields.
func (r *Recipe) Validate() error {
	var errs []error
	if strings.TrimSpace(r.ID) == "" {
		errs = append(errs, errors.New("recipe: id is required"))
	}
	if strings.TrimSpace(r.Title) == "" {
		errs = append(errs, errors.New("recipe: title is required"))
	}
	if strings.TrimSpace(r.Body) == "" {
		errs = append(errs, ErrEmpty)
	}
	return errors.Join(errs...)
}

// Store provides access to stored recipes. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the recipe whose id or, failing that, title matches key.
	// It returns [ErrNotFound] if none does.
	Get(ctx context.Context, key string) (*Recipe, error)

	// List returns all recipes ordered by title, without their bodies.
	List(ctx context.Context) ([]Recipe, error)

	// Upsert creates or replaces a recipe.
	Upsert(ctx context.Context, r *Recipe) error

	// Delete removes a recipe. Deleting a missing recipe is not an error.
	Delete(ctx context.Context, id string) error
}

// Lister lists the recipes of a remote source.
type Lister interface {
	List(ctx context.Context) ([]Recipe, error)
}

// Getter fetches one recipe of a remote source.
type Getter interface {
	Get(ctx context.Context, key string) (*Recipe, error)
}

//go:embed default_recipe.yaml
var bundled []byte

// Bundled returns the recipe compiled into the binary.
func Bundled() string {
	text, err := parseFile(bundled)
	if err != nil {
		panic(fmt.Sprintf("recipe: bundled recipe is invalid: %v", err))
	}
	return text
}

// recipeFile is the layout of a YAML recipe file.
type recipeFile struct {
	Recipe string `yaml:"recipe"`
}

// parseFile returns the "recipe" key of a YAML document, or the whole
// content when it is not such a document.
func parseFile(data []byte) (string, error) {
	var f recipeFile
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&f); err == nil && strings.TrimSpace(f.Recipe) != "" {
		return strings.TrimSpace(f.Recipe), nil
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", ErrEmpty
	}
	return text, nil
}

// Loader resolves selectors to recipe text.
type Loader struct {
	store  Store
	notion Getter
}

// LoaderOption configures a [Loader].
type LoaderOption func(*Loader)

// WithStore enables [SourcePostgres].
func WithStore(s Store) LoaderOption {
	return func(l *Loader) { l.store = s }
}

// WithNotion enables [SourceNotion].
func WithNotion(g Getter) LoaderOption {
	return func(l *Loader) { l.notion = g }
}

// NewLoader returns a Loader. Bundled, file and text sources are always
// available.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Get returns the text of the selected recipe.
func (l *Loader) Get(ctx context.Context, sel Selector) (string, error) {
	switch sel.Source {
	case SourceBundled, "":
		return Bundled(), nil
	case SourceText:
		text := strings.TrimSpace(sel.Text)
		if text == "" {
			return "", ErrEmpty
		}
		return text, nil
	case SourceFile:
		data, err := os.ReadFile(sel.Path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return "", fmt.Errorf("%w: %s", ErrNotFound, sel.Path)
			}
			return "", fmt.Errorf("recipe: read %q: %w", sel.Path, err)
		}
		return parseFile(data)
	case SourcePostgres:
		if l.store == nil {
			return "", fmt.Errorf("%w: %s", ErrUnavailable, sel.Source)
		}
		return body(getOrLatest(ctx, l.store, l.store, sel.ID))
	case SourceNotion:
		if l.notion == nil {
			return "", fmt.Errorf("%w: %s", ErrUnavailable, sel.Source)
		}
		lister, _ := l.notion.(Lister)
		return body(getOrLatest(ctx, l.notion, lister, sel.ID))
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownSource, sel.Source)
	}
}

// List returns the recipes available from src.
func (l *Loader) List(ctx context.Context, src Source) ([]Recipe, error) {
	switch src {
	case SourcePostgres:
		if l.store == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnavailable, src)
		}
		return l.store.List(ctx)
	case SourceNotion:
		lister, ok := l.notion.(Lister)
		if !ok || l.notion == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnavailable, src)
		}
		return lister.List(ctx)
	default:
		return nil, fmt.Errorf("%w: %q cannot be listed", ErrUnknownSource, src)
	}
}

// getOrLatest fetches key, or the most recently updated recipe when key is
// empty.
func getOrLatest(ctx context.Context, g Getter, l Lister, key string) (*Recipe, error) {
	if key != "" {
		return g.Get(ctx, key)
	}
	if l == nil {
		return nil, fmt.Errorf("%w: no recipe id given", ErrNotFound)
	}
	list, err := l.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: source has no recipes", ErrNotFound)
	}
	latest := list[0]
	for _, r := range list[1:] {
		if r.UpdatedAt.After(latest.UpdatedAt) {
			latest = r
		}
	}
	return g.Get(ctx, latest.ID)
}

func body(r *Recipe, err error) (string, error) {
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(r.Body)
	if text == "" {
		return "", ErrEmpty
	}
	return text, nil
}
