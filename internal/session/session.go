// Package session drives one configuration session over a tabular source:
// open and infer, overlay the saved sidecar, apply edits (each persisted
// immediately), then commit or discard.
//
// State machine:
//
//	Idle -> Opened -> Editing* -> Committed | Discarded
//
// Committed and Discarded are terminal; any further operation returns
// ErrSessionClosed. A Session is owned by one caller and is not safe for
// concurrent use. Nothing in this package panics on bad input; every failure
// is returned as an error.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"csvconf/internal/datasource"
	"csvconf/internal/infer"
	"csvconf/internal/metrics"
	"csvconf/internal/numfmt"
	"csvconf/internal/preview"
	"csvconf/internal/schema"
	"csvconf/internal/sidecar"
)

var (
	// ErrSessionClosed is returned for operations on a committed or
	// discarded session, and on a nil one.
	ErrSessionClosed = errors.New("session: session is closed")
	// ErrIneligibleColumn is returned when a coordinate role is assigned to
	// a column whose effective type is not Real.
	ErrIneligibleColumn = errors.New("session: column is not eligible for a coordinate role")
)

// State is the lifecycle state of a Session.
type State int

const (
	Idle State = iota
	Opened
	Editing
	Committed
	Discarded
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Opened:
		return "opened"
	case Editing:
		return "editing"
	case Committed:
		return "committed"
	case Discarded:
		return "discarded"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) terminal() bool { return s == Committed || s == Discarded }

// Session is one open configuration of a source file.
type Session struct {
	ID          string
	Path        string
	SidecarPath string
	Schema      schema.Schema
	Rows        []datasource.Row
	State       State
	// FromSidecar reports that a sidecar was found and overlaid at open.
	FromSidecar bool
	// SkippedTokens lists column positions the sidecar had no usable
	// token for.
	SkippedTokens []int

	numbers numfmt.Policy
}

// Preview renders the preview rows under the current effective types.
func (s *Session) Preview() preview.Grid {
	return preview.Format(s.Schema, s.Rows, s.numbers)
}

// Candidates lists the columns eligible for a coordinate role.
func (s *Session) Candidates() []int {
	return s.Schema.NumericColumns()
}

// Numbers returns the number policy used for this session.
func (s *Session) Numbers() numfmt.Policy { return s.numbers }

// Options configures a Controller.
type Options struct {
	// Open opens sources. When nil, sources are opened through the
	// datasource registry with Source, and the session's number policy is
	// applied when parsing.
	Open datasource.OpenFunc
	// Source holds adapter settings used when Open is nil.
	Source datasource.Options
	// Logger defaults to a discarding logger.
	Logger *slog.Logger
	// Metrics defaults to metrics.Nop.
	Metrics metrics.Backend
	// Numbers is the initial number policy of new sessions. The zero value
	// behaves like numfmt.Default().
	Numbers numfmt.Policy
	// MaxRows caps the preview; see infer.Inferer.
	MaxRows int
}

// Controller opens and drives sessions.
type Controller struct {
	open    datasource.OpenFunc
	source  datasource.Options
	log     *slog.Logger
	metrics metrics.Backend
	numbers numfmt.Policy
	inferer infer.Inferer
	writeSC func(path, line string) error
	readSC  func(path string) (string, bool, error)
	now     func() time.Time
	newID   func() string
}

// New returns a Controller.
func New(opts Options) *Controller {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Controller{
		open:    opts.Open,
		source:  opts.Source,
		log:     log.With("component", "session"),
		metrics: metrics.OrNop(opts.Metrics),
		numbers: opts.Numbers,
		inferer: infer.Inferer{MaxRows: opts.MaxRows},
		writeSC: sidecar.Write,
		readSC:  sidecar.Read,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

func (c *Controller) openSource(ctx context.Context, path string, p numfmt.Policy) (datasource.Source, error) {
	if c.open != nil {
		return c.open(ctx, path)
	}
	o := c.source
	o.Numbers = p
	return datasource.Open(ctx, path, o)
}

func (c *Controller) observe(op string, start time.Time, err error) {
	metrics.ObserveOp(c.metrics, op, metrics.Status(err), c.now().Sub(start))
}

// Open infers the schema and preview of path and overlays its sidecar when
// one exists. A missing sidecar is not an error; an unreadable one is logged
// and ignored. Source failures return an error matching
// datasource.ErrSourceOpen and no session.
func (c *Controller) Open(ctx context.Context, path string) (s *Session, err error) {
	start := c.now()
	defer func() { c.observe("open", start, err) }()

	src, err := c.openSource(ctx, path, c.numbers)
	if err != nil {
		c.log.Error("open source", "path", path, "err", err)
		return nil, err
	}
	defer src.Close()

	res, err := c.inferer.Infer(src)
	if err != nil {
		c.log.Error("infer", "path", path, "err", err)
		return nil, err
	}

	s = &Session{
		ID:          c.newID(),
		Path:        path,
		SidecarPath: sidecar.Path(path),
		Schema:      res.Schema,
		Rows:        res.Rows,
		State:       Opened,
		numbers:     c.numbers,
	}

	text, found, rerr := c.readSC(s.SidecarPath)
	switch {
	case rerr != nil:
		c.log.Warn("read sidecar; ignoring", "path", s.SidecarPath, "err", rerr)
	case found:
		overlay(&s.Schema, sidecar.Parse(text, s.Schema.Len()))
		s.FromSidecar = true
		s.SkippedTokens = sidecar.Skipped(text, s.Schema.Len())
	}

	metrics.AddRows(c.metrics, "preview", len(s.Rows))
	c.log.Info("session opened",
		"session", s.ID,
		"path", path,
		"columns", s.Schema.Len(),
		"rows", len(s.Rows),
		"sidecar", s.FromSidecar,
		"skipped_tokens", len(s.SkippedTokens),
	)
	return s, nil
}

// overlay applies sidecar tokens. Coordinate tokens set the role and make
// the column Real; a later duplicate coordinate token wins.
func overlay(sc *schema.Schema, tokens []sidecar.Token) {
	for i, tok := range tokens {
		if t, ok := tok.Type(); ok {
			_ = sc.SetType(i, t)
		}
		if r := tok.Role(); r != schema.None {
			_ = sc.SetRole(i, r)
		}
	}
}

// ApplyEdit applies e to the schema, rewrites the sidecar and re-reads the
// preview rows. Column types are never re-inferred.
//
// A schema error (bad index, ineligible column) leaves everything unchanged.
// A sidecar write failure keeps the edit and returns an error matching
// sidecar.ErrWrite; the rows are not refreshed in that case.
func (c *Controller) ApplyEdit(ctx context.Context, s *Session, e Edit) (err error) {
	start := c.now()
	defer func() { c.observe("edit", start, err) }()

	if s == nil || s.State.terminal() {
		return ErrSessionClosed
	}
	if err := e.apply(&s.Schema); err != nil {
		return err
	}
	s.State = Editing

	if err := c.write(s); err != nil {
		return err
	}
	c.log.Debug("edit applied", "session", s.ID, "edit", e.String())
	return c.Refresh(ctx, s)
}

// Refresh re-reads the preview rows of s. The schema is left as is; rows are
// padded or truncated to the schema's column count.
func (c *Controller) Refresh(ctx context.Context, s *Session) error {
	if s == nil || s.State.terminal() {
		return ErrSessionClosed
	}
	src, err := c.openSource(ctx, s.Path, s.numbers)
	if err != nil {
		c.log.Error("refresh: open source", "session", s.ID, "err", err)
		return err
	}
	defer src.Close()

	rows, err := c.inferer.Rows(src, s.Schema.Len())
	if err != nil {
		c.log.Error("refresh: read rows", "session", s.ID, "err", err)
		return err
	}
	s.Rows = rows
	metrics.AddRows(c.metrics, "preview", len(rows))
	return nil
}

// SetNumbers switches the number policy of s and re-reads its preview.
func (c *Controller) SetNumbers(ctx context.Context, s *Session, p numfmt.Policy) error {
	if s == nil || s.State.terminal() {
		return ErrSessionClosed
	}
	s.numbers = p
	return c.Refresh(ctx, s)
}

// Commit writes the final sidecar and closes the session. On write failure
// the session stays open so Commit can be retried.
func (c *Controller) Commit(ctx context.Context, s *Session) (err error) {
	start := c.now()
	defer func() { c.observe("commit", start, err) }()

	if s == nil || s.State.terminal() {
		return ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.write(s); err != nil {
		return err
	}
	s.State = Committed
	c.log.Info("session committed", "session", s.ID, "sidecar", s.SidecarPath)
	return nil
}

// Discard closes the session without writing. Sidecar writes already made
// by ApplyEdit are not undone.
func (c *Controller) Discard(s *Session) error {
	if s == nil || s.State.terminal() {
		return ErrSessionClosed
	}
	s.State = Discarded
	c.log.Info("session discarded", "session", s.ID)
	return nil
}

func (c *Controller) write(s *Session) error {
	line := sidecar.Serialize(s.Schema)
	err := c.writeSC(s.SidecarPath, line)
	metrics.IncSidecarWrite(c.metrics, metrics.Status(err))
	if err != nil {
		c.log.Error("write sidecar", "session", s.ID, "path", s.SidecarPath, "err", err)
		return err
	}
	return nil
}
