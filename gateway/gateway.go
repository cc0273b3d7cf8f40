package gateway

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	ledgererrors "daoledger/core/errors"
	"daoledger/core/host"
	"daoledger/crypto"
	"daoledger/gateway/middleware"
	"daoledger/integrations/exports"
	"daoledger/integrations/indexer"
	"daoledger/native/bounty"
	"daoledger/native/pool"
	"daoledger/native/training"
	"daoledger/native/vesting"
)

// RouteQuery and RouteEvents are the rate-limit keys of the API groups.
const (
	RouteQuery  = "query"
	RouteEvents = "events"

	maxEventPage = 1000
)

// Options configures the query gateway.
type Options struct {
	// Indexer enables /v1/events when set.
	Indexer *indexer.Indexer
	// Registerer receives request metrics. A private registry is used when nil.
	Registerer prometheus.Registerer
	// Gatherer backs /metrics. Defaults to the process registry plus the
	// request metrics.
	Gatherer    prometheus.Gatherer
	CORS        middleware.CORSConfig
	RateLimits  map[string]middleware.RateLimit
	Logger      *slog.Logger
	LogRequests bool
	// Auth guards /v1/events with ScopeAuditRead when enabled.
	Auth *middleware.Authenticator
}

type server struct {
	host    *host.Host
	indexer *indexer.Indexer
	logger  *slog.Logger
}

// New returns the read-only HTTP API over h.
func New(h *host.Host, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registerer := opts.Registerer
	gatherer := opts.Gatherer
	if registerer == nil {
		private := prometheus.NewRegistry()
		registerer = private
		if gatherer == nil {
			gatherer = prometheus.Gatherers{prometheus.DefaultGatherer, private}
		}
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	obs := middleware.NewObservability(middleware.ObservabilityConfig{LogRequests: opts.LogRequests}, registerer, logger)
	limiter := middleware.NewRateLimiter(opts.RateLimits, logger)
	s := &server{host: h, indexer: opts.Indexer, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.CORS(opts.CORS))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(q chi.Router) {
			q.Use(limiter.Middleware(RouteQuery))
			q.Use(obs.Middleware(RouteQuery))
			q.Get("/schedules/{id}", s.schedule)
			q.Get("/beneficiaries/{addr}/schedules", s.beneficiary)
			q.Get("/pools", s.pools)
			q.Get("/pools/{name}", s.pool)
			q.Get("/campaigns", s.campaigns)
			q.Get("/campaigns/{id}", s.campaign)
			q.Get("/campaigns/{id}/completions/{learner}", s.completion)
			q.Get("/learners/{addr}", s.learner)
			q.Get("/tasks", s.tasks)
			q.Get("/tasks/{id}", s.task)
			q.Get("/contributors/{addr}", s.contributor)
		})
		if s.indexer != nil {
			v1.Group(func(ev chi.Router) {
				ev.Use(limiter.Middleware(RouteEvents))
				ev.Use(obs.Middleware(RouteEvents))
				if opts.Auth.Enabled() {
					ev.Use(opts.Auth.Middleware(middleware.ScopeAuditRead))
				}
				ev.Get("/events", s.events)
			})
		}
	})
	return r
}

func (s *server) schedule(w http.ResponseWriter, r *http.Request) {
	id, err := parseScheduleID(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	var view scheduleView
	err = s.host.View(func() error {
		sched, err := s.host.Vesting.Schedule(id)
		if err != nil {
			return err
		}
		view = newScheduleView(sched, s.host.Now())
		return nil
	})
	s.respond(w, view, err)
}

func (s *server) beneficiary(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.ParseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	var view summaryView
	err = s.host.View(func() error {
		now := s.host.Now()
		schedules, err := s.host.Vesting.SchedulesOf(addr)
		if err != nil {
			return err
		}
		sum, err := s.host.Vesting.Summary(addr, now)
		if err != nil {
			return err
		}
		view = newSummaryView(sum, schedules, now)
		return nil
	})
	s.respond(w, view, err)
}

func (s *server) pools(w http.ResponseWriter, r *http.Request) {
	var views []poolView
	err := s.host.View(func() error {
		list, err := s.host.Pools.Pools()
		if err != nil {
			return err
		}
		views = make([]poolView, 0, len(list))
		for _, p := range list {
			views = append(views, newPoolView(p))
		}
		return nil
	})
	s.respond(w, views, err)
}

func (s *server) pool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, err := pool.NormalizeName(name); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	var view poolView
	err := s.host.View(func() error {
		p, err := s.host.Pools.PoolByName(name)
		if err != nil {
			return err
		}
		view = newPoolView(p)
		return nil
	})
	s.respond(w, view, err)
}

func (s *server) campaigns(w http.ResponseWriter, r *http.Request) {
	var views []campaignView
	err := s.host.View(func() error {
		list, err := s.host.Training.Campaigns()
		if err != nil {
			return err
		}
		views = make([]campaignView, 0, len(list))
		for _, c := range list {
			p, err := s.host.Pools.Pool(c.PoolID)
			if err != nil {
				return err
			}
			views = append(views, newCampaignView(c, p))
		}
		return nil
	})
	s.respond(w, views, err)
}

func (s *server) campaign(w http.ResponseWriter, r *http.Request) {
	var view campaignView
	err := s.host.View(func() error {
		c, err := s.host.Training.Campaign(chi.URLParam(r, "id"))
		if err != nil {
			return err
		}
		p, err := s.host.Pools.Pool(c.PoolID)
		if err != nil {
			return err
		}
		view = newCampaignView(c, p)
		return nil
	})
	s.respond(w, view, err)
}

func (s *server) completion(w http.ResponseWriter, r *http.Request) {
	learner, err := crypto.ParseAddress(chi.URLParam(r, "learner"))
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	var record *training.CompletionRecord
	err = s.host.View(func() error {
		var err error
		record, err = s.host.Training.Completion(learner, chi.URLParam(r, "id"))
		return err
	})
	if err == nil && record == nil {
		s.fail(w, http.StatusNotFound, errors.New("completion not found"))
		return
	}
	if err != nil {
		s.respond(w, nil, err)
		return
	}
	s.respond(w, newCompletionView(record), nil)
}

func (s *server) learner(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.ParseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	var view learnerView
	err = s.host.View(func() error {
		stats, err := s.host.Training.LearnerStats(addr)
		if err != nil {
			return err
		}
		view = learnerView{Learner: addressHex(addr), Completions: stats.Completions, TotalEarned: amount(stats.TotalEarned)}
		return nil
	})
	s.respond(w, view, err)
}

func (s *server) tasks(w http.ResponseWriter, r *http.Request) {
	statusParam := strings.TrimSpace(r.URL.Query().Get("status"))
	var filter *bounty.TaskStatus
	if statusParam != "" {
		status, err := bounty.ParseStatus(statusParam)
		if err != nil {
			s.fail(w, http.StatusBadRequest, err)
			return
		}
		filter = &status
	}
	var views []taskView
	err := s.host.View(func() error {
		var (
			list []*bounty.Task
			err  error
		)
		if filter != nil {
			list, err = s.host.Bounty.TasksByStatus(*filter)
		} else {
			list, err = s.host.Bounty.Tasks()
		}
		if err != nil {
			return err
		}
		views = make([]taskView, 0, len(list))
		for _, t := range list {
			views = append(views, newTaskView(t))
		}
		return nil
	})
	s.respond(w, views, err)
}

func (s *server) task(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("invalid task id: %w", err))
		return
	}
	var view taskView
	err = s.host.View(func() error {
		t, err := s.host.Bounty.Task(id)
		if err != nil {
			return err
		}
		view = newTaskView(t)
		return nil
	})
	s.respond(w, view, err)
}

func (s *server) contributor(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.ParseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	var view contributorView
	err = s.host.View(func() error {
		stats, err := s.host.Bounty.ContributorStats(addr)
		if err != nil {
			return err
		}
		view = contributorView{
			Contributor: addressHex(addr),
			Completed:   stats.Completed,
			TotalEarned: amount(stats.TotalEarned),
			Reputation:  stats.Reputation,
		}
		return nil
	})
	s.respond(w, view, err)
}

func (s *server) events(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := indexer.Filter{
		Type:    q.Get("type"),
		Module:  q.Get("module"),
		Subject: q.Get("subject"),
		Key:     q.Get("key"),
		Value:   q.Get("value"),
		Limit:   maxEventPage,
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			s.fail(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		if limit < maxEventPage {
			filter.Limit = limit
		}
	}
	rows, err := s.indexer.Events(r.Context(), filter)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	var (
		data        []byte
		checksum    string
		contentType string
	)
	switch format := q.Get("format"); format {
	case "", "jsonl":
		data, checksum, err = exports.AuditJSONL(rows)
		contentType = "application/x-ndjson"
	case "csv":
		data, checksum, err = exports.AuditCSV(rows)
		contentType = "text/csv"
	default:
		s.fail(w, http.StatusBadRequest, fmt.Errorf("unsupported format %q", format))
		return
	}
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Checksum-SHA256", checksum)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *server) respond(w http.ResponseWriter, body any, err error) {
	if err != nil {
		s.fail(w, statusFor(err), err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *server) fail(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("query failed",
			slog.String("component", "gateway"),
			slog.Any("error", err))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, vesting.ErrScheduleNotFound),
		errors.Is(err, pool.ErrPoolNotFound),
		errors.Is(err, training.ErrCampaignNotFound),
		errors.Is(err, bounty.ErrTaskNotFound):
		return http.StatusNotFound
	}
	switch ledgererrors.KindOf(err) {
	case ledgererrors.KindValidation:
		return http.StatusBadRequest
	case ledgererrors.KindAuthorization:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func parseScheduleID(raw string) ([32]byte, error) {
	var id [32]byte
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(raw), "0x"), "0X")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return id, fmt.Errorf("invalid schedule id: %w", err)
	}
	if len(decoded) != len(id) {
		return id, fmt.Errorf("schedule id must be 32 bytes, got %d", len(decoded))
	}
	copy(id[:], decoded)
	return id, nil
}
