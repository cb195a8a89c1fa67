package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/ledlocator/internal/audit"
	"github.com/nerrad567/ledlocator/internal/infrastructure/logging"
)

// auditQueueSize is how many API audit entries may wait for the writer.
// Further entries are dropped with a warning.
const auditQueueSize = 256

// auditQueue serialises API-originated audit writes (logins, user and
// location changes) onto one goroutine. Locator actions are written by
// audit.Recorder instead.
type auditQueue struct {
	repo    audit.Repository
	entries chan *audit.Entry
	logger  *logging.Logger
	done    chan struct{} // closed when run returns
}

func newAuditQueue(repo audit.Repository, logger *logging.Logger) *auditQueue {
	return &auditQueue{
		repo:    repo,
		entries: make(chan *audit.Entry, auditQueueSize),
		logger:  logger,
		done:    make(chan struct{}),
	}
}

func (q *auditQueue) enqueue(e *audit.Entry) {
	select {
	case q.entries <- e:
	default:
		q.logger.Warn("audit queue full, entry dropped", "action", e.Action, "entity_type", e.EntityType)
	}
}

// run writes entries until ctx ends, then flushes whatever is queued.
func (q *auditQueue) run(ctx context.Context) {
	defer close(q.done)
	for {
		select {
		case e := <-q.entries:
			q.write(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-q.entries:
					q.write(e)
				default:
					return
				}
			}
		}
	}
}

func (q *auditQueue) write(e *audit.Entry) {
	// Runs after the request has finished, so it has no request context.
	if err := q.repo.Create(context.Background(), e); err != nil {
		q.logger.Error("audit write failed", "action", e.Action, "entity_type", e.EntityType, "error", err)
	}
}

// auditLog queues an audit entry attributed to userID. A server without an
// audit repository records nothing.
func (s *Server) auditLog(action, entityType, entityID, userID string, details map[string]any) {
	if s.auditQ == nil {
		return
	}
	s.auditQ.enqueue(&audit.Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		UserID:     userID,
		Source:     "api",
		Details:    details,
		CreatedAt:  time.Now(),
	})
}

// handleListAuditLogs serves GET /audit. Filters: action, entity_type,
// entity_id, user_id, since (RFC 3339), limit and offset.
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "audit logging not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		UserID:     q.Get("user_id"),
	}

	var ok bool
	if filter.Limit, ok = intParam(w, q.Get("limit"), "limit"); !ok {
		return
	}
	if filter.Offset, ok = intParam(w, q.Get("offset"), "offset"); !ok {
		return
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = since
	}

	page, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit entries failed", "error", err, "request_id", requestID(r))
		writeInternalError(w, "failed to list audit logs")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// intParam parses an optional integer query parameter, writing a 400 and
// reporting false when it is malformed.
func intParam(w http.ResponseWriter, raw, name string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeBadRequest(w, name+" must be an integer")
		return 0, false
	}
	return n, true
}
