// Package backendtest provides an in-memory fake of the matchmaking backend
// REST API for tests.
package backendtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/masterdesignstate/mmfrontend-sub002/internal/model"
)

// Server is a fake backend. Exported fields may be changed between requests
// while holding no lock; tests drive it from one goroutine.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	questions []model.Question
	answers   map[string][]model.Answer // user -> answers, upserted by question
	users     map[string]*model.User
	statuses  map[string]model.OnboardingStatus
	requests  map[string]int

	// FailAnswerPages makes the listed 1-based answer pages return 500.
	FailAnswerPages map[int]bool
	// FailSubmit makes POST /answers/ return 500 with an error body.
	FailSubmit bool
	// FailUser makes GET /users/<id>/ return 500.
	FailUser bool
	// LoopNext makes every answer page point back to page 1.
	LoopNext bool
	// NestedQuestionIDs serves answers with question:{id} instead of question_id.
	NestedQuestionIDs bool
	// UserGate, when set, is waited on before answering GET /users/<id>/.
	UserGate chan struct{}
}

// New starts a fake backend that is closed when t finishes.
func New(t testing.TB) *Server {
	s := &Server{
		answers:         make(map[string][]model.Answer),
		users:           make(map[string]*model.User),
		statuses:        make(map[string]model.OnboardingStatus),
		requests:        make(map[string]int),
		FailAnswerPages: make(map[int]bool),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/questions/", s.handleQuestions)
	mux.HandleFunc("/api/answers/", s.handleAnswers)
	mux.HandleFunc("/api/users/", s.handleUser)
	mux.HandleFunc("/api/auth/onboarding-status/", s.handleOnboardingStatus)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// BaseURL is the API root to configure the client with.
func (s *Server) BaseURL() string { return s.URL + "/api/" }

func (s *Server) AddQuestions(qs ...model.Question) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questions = append(s.questions, qs...)
}

func (s *Server) SetUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	uc := u
	s.users[string(u.ID)] = &uc
}

func (s *Server) SetComplete(userID string, complete bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		u = &model.User{ID: model.ID(userID)}
		s.users[userID] = u
	}
	u.MandatoryQuestionsComplete = complete
}

func (s *Server) SetOnboardingStatus(email string, st model.OnboardingStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[strings.ToLower(email)] = st
}

// SeedAnswers stores answered question ids for userID as if submitted earlier.
func (s *Server) SeedAnswers(userID string, questionIDs ...string) {
	for _, id := range questionIDs {
		s.upsert(model.Answer{
			UserID: userID, QuestionID: id,
			MeAnswer: 3, MeImportance: 3, LookingForAnswer: 3, LookingForImportance: 3,
		})
	}
}

// Answers returns what the backend stored for userID.
func (s *Server) Answers(userID string) []model.Answer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Answer(nil), s.answers[userID]...)
}

// Requests returns how many times a route ("questions", "answers:get",
// "answers:post", "users", "onboarding-status") was hit.
func (s *Server) Requests(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[route]
}

func (s *Server) hit(route string) {
	s.mu.Lock()
	s.requests[route]++
	s.mu.Unlock()
}

func (s *Server) upsert(a model.Answer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.answers[a.UserID]
	for i := range list {
		if list[i].QuestionID == a.QuestionID {
			list[i] = a
			return
		}
	}
	s.answers[a.UserID] = append(list, a)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleQuestions(w http.ResponseWriter, r *http.Request) {
	s.hit("questions")
	want := map[int]bool{}
	for _, v := range r.URL.Query()["question_number"] {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad question_number"})
			return
		}
		want[n] = true
	}
	s.mu.Lock()
	out := make([]model.Question, 0)
	for _, q := range s.questions {
		if len(want) == 0 || want[q.QuestionNumber] {
			out = append(out, q)
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, model.QuestionList{Results: out})
}

func (s *Server) handleAnswers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.hit("answers:post")
		if s.FailSubmit {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "database unavailable"})
			return
		}
		var a model.Answer
		if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
			return
		}
		s.upsert(a)
		writeJSON(w, http.StatusCreated, a)
	case http.MethodGet:
		s.hit("answers:get")
		s.listAnswers(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) listAnswers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user_id")
	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	if pageSize <= 0 {
		pageSize = 10
	}
	page, _ := strconv.Atoi(q.Get("page"))
	if page <= 0 {
		page = 1
	}
	if s.FailAnswerPages[page] {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "page unavailable"})
		return
	}

	all := s.Answers(userID)
	sort.SliceStable(all, func(i, j int) bool { return all[i].QuestionID < all[j].QuestionID })
	start := (page - 1) * pageSize
	if start > len(all) {
		start = len(all)
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}

	results := make([]map[string]interface{}, 0, end-start)
	for _, a := range all[start:end] {
		rec := map[string]interface{}{
			"me_answer":               a.MeAnswer,
			"me_open_to_all":          a.MeOpenToAll,
			"me_importance":           a.MeImportance,
			"looking_for_answer":      a.LookingForAnswer,
			"looking_for_open_to_all": a.LookingForOpenToAll,
			"looking_for_importance":  a.LookingForImportance,
		}
		if s.NestedQuestionIDs {
			rec["question"] = map[string]interface{}{"id": a.QuestionID}
		} else {
			rec["question_id"] = a.QuestionID
		}
		results = append(results, rec)
	}

	var next *string
	switch {
	case s.LoopNext:
		u := fmt.Sprintf("%s/api/answers/?user_id=%s&page_size=%d&page=1", s.URL, userID, pageSize)
		next = &u
	case end < len(all):
		u := fmt.Sprintf("%s/api/answers/?user_id=%s&page_size=%d&page=%d", s.URL, userID, pageSize, page+1)
		next = &u
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results, "next": next})
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	s.hit("users")
	if s.UserGate != nil {
		<-s.UserGate
	}
	if s.FailUser {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "boom"})
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/users/"), "/")
	s.mu.Lock()
	u, ok := s.users[id]
	var body model.User
	if ok {
		body = *u
	}
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleOnboardingStatus(w http.ResponseWriter, r *http.Request) {
	s.hit("onboarding-status")
	var req model.OnboardingStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	s.mu.Lock()
	st, ok := s.statuses[strings.ToLower(req.Email)]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no onboarding in progress"})
		return
	}
	writeJSON(w, http.StatusOK, st)
}
