package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/siftengine/sift/internal/errors"
	"github.com/siftengine/sift/internal/federation"
	"github.com/siftengine/sift/internal/scheduler"
	"github.com/siftengine/sift/internal/search"
	"github.com/siftengine/sift/internal/tasks"
)

// Server wires the scheduler, task queue, and search runtime behind a
// handful of HTTP handlers. Searchers are opened lazily and cached per
// index uid, since building one pins the index's fields-ids map and
// roaring bitmaps for the semaphore-bounded query path.
type Server struct {
	Scheduler *scheduler.Scheduler
	Queue     *tasks.Queue
	Registry  *scheduler.IndexRegistry
	Files     *scheduler.UpdateFileStore

	MaxConcurrentSearches int64

	mu        sync.Mutex
	searchers map[string]*search.Searcher
}

// NewServer returns a Server ready to have its handlers registered.
func NewServer(sched *scheduler.Scheduler, queue *tasks.Queue, registry *scheduler.IndexRegistry, files *scheduler.UpdateFileStore, maxConcurrentSearches int64) *Server {
	return &Server{
		Scheduler:             sched,
		Queue:                 queue,
		Registry:              registry,
		Files:                 files,
		MaxConcurrentSearches: maxConcurrentSearches,
		searchers:             make(map[string]*search.Searcher),
	}
}

// Handler builds the http.Handler exposing every registered route.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /tasks/{uid}", s.handleGetTask)
	mux.HandleFunc("GET /tasks", s.handleListTasks)
	mux.HandleFunc("POST /indexes/{uid}/documents", s.handleAddDocuments)
	mux.HandleFunc("POST /indexes/{uid}/search", s.handleSearch)
	mux.HandleFunc("POST /multi-search", s.handleFederatedSearch)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "available"})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	uid, err := strconv.ParseUint(r.PathValue("uid"), 10, 64)
	if err != nil {
		writeError(w, errors.New(errors.CodeInvalidTaskFilter, "task uid must be an integer", err))
		return
	}
	t, err := s.Queue.Get(uid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	results, err := s.Queue.List(tasks.Filter{Reverse: true})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// handleAddDocuments stores the request body as an update-file payload and
// registers a documentAdditionOrUpdate task, mirroring how
// scheduler.executeAddDocuments later reads it back by ContentFile id.
func (s *Server) handleAddDocuments(w http.ResponseWriter, r *http.Request) {
	indexUID := r.PathValue("uid")
	body, err := readAll(r)
	if err != nil {
		writeError(w, errors.New(errors.CodeInvalidContentType, "failed to read request body", err))
		return
	}

	fileID, err := s.Files.Store(body)
	if err != nil {
		writeError(w, err)
		return
	}

	t, err := s.Scheduler.Register(tasks.Task{
		Kind:        tasks.KindDocumentAdditionOrUpdate,
		IndexUID:    indexUID,
		ContentFile: fileID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, t)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	indexUID := r.PathValue("uid")

	var q search.Query
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeError(w, errors.New(errors.CodeInvalidSearchQuery, "malformed search request body", err))
		return
	}
	q.IndexUID = indexUID

	searcher, err := s.searcherFor(indexUID)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := searcher.Search(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type multiSearchRequest struct {
	Queries []federation.FederatedQuery
	federation.Options
	Rules []federation.Rule
}

func (s *Server) handleFederatedSearch(w http.ResponseWriter, r *http.Request) {
	var req multiSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.New(errors.CodeInvalidSearchQuery, "malformed federated search request body", err))
		return
	}

	result, err := federation.Run(r.Context(), s, req.Queries, req.Options, req.Rules)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Searcher, RankingRules, and InternalDocID implement
// federation.SearcherProvider, so Server itself can be handed to
// federation.Run without a separate adapter type.
func (s *Server) Searcher(indexUID string) (*search.Searcher, error) {
	return s.searcherFor(indexUID)
}

func (s *Server) RankingRules(indexUID string) ([]search.RankingRule, error) {
	idx, err := s.Registry.Acquire(indexUID)
	if err != nil {
		return nil, err
	}
	defer s.Registry.Release(indexUID)
	settings, err := idx.Settings()
	if err != nil {
		return nil, err
	}
	return search.ParseRankingRules(settings.RankingRules), nil
}

func (s *Server) InternalDocID(indexUID, externalID string) (uint32, bool) {
	idx, err := s.Registry.Acquire(indexUID)
	if err != nil {
		return 0, false
	}
	defer s.Registry.Release(indexUID)
	return indexInternalID(idx, externalID)
}

func (s *Server) searcherFor(indexUID string) (*search.Searcher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.searchers[indexUID]; ok {
		return cached, nil
	}
	idx, err := s.Registry.Acquire(indexUID)
	if err != nil {
		return nil, err
	}
	searcher := search.NewSearcher(idx, s.MaxConcurrentSearches)
	s.searchers[indexUID] = searcher
	return searcher, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	se, ok := err.(*errors.SiftError)
	if !ok {
		se = errors.InternalError(err.Error(), err)
	}
	writeJSON(w, statusForCode(se.Code), map[string]any{
		"code":    se.Code,
		"message": se.Message,
	})
}

func statusForCode(code string) int {
	switch code {
	case errors.CodeIndexNotFound:
		return http.StatusNotFound
	case errors.CodeFeatureNotEnabled:
		return http.StatusNotImplemented
	default:
		if len(code) >= 7 && code[:7] == "invalid" {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	}
}
