package formsim

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// CookieName is the session cookie the simulated runner issues.
const CookieName = "_forms_runner_session"

// Request is a recorded POST.
type Request struct {
	Path string
	Form url.Values
}

// Submission is a completed form.
type Submission struct {
	FormID       string
	Answers      url.Values
	Confirmation string
	Reference    string
}

// Stats summarises server activity.
type Stats struct {
	Sessions    int
	Submissions map[string]int
	Rejected    int
}

type session struct {
	formID  string
	token   string
	next    int
	answers url.Values
}

// Server serves the simulated forms. It is safe for concurrent use.
type Server struct {
	forms   map[string]Form
	router  *mux.Router
	log     *zap.Logger
	latency time.Duration
	record  bool

	mu          sync.Mutex
	sessions    map[string]*session
	submissions []Submission
	requests    []Request
	rejected    int
}

// Option configures a Server.
type Option func(*Server)

// WithLogger logs every request at debug level.
func WithLogger(log *zap.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithLatency delays every response by d.
func WithLatency(d time.Duration) Option {
	return func(s *Server) { s.latency = d }
}

// WithRequestLog keeps every POST body for inspection via Requests.
func WithRequestLog() Option {
	return func(s *Server) { s.record = true }
}

// New returns a server for forms.
func New(forms []Form, opts ...Option) *Server {
	s := &Server{
		forms:    make(map[string]Form, len(forms)),
		router:   mux.NewRouter(),
		log:      zap.NewNop(),
		sessions: make(map[string]*session),
	}
	for _, f := range forms {
		s.forms[f.ID] = f
	}
	for _, opt := range opts {
		opt(s)
	}

	r := s.router
	r.HandleFunc("/form/{id}", s.start).Methods(http.MethodGet)
	r.HandleFunc("/form/{id}/question/{n:[0-9]+}", s.showQuestion).Methods(http.MethodGet)
	r.HandleFunc("/form/{id}/question/{n:[0-9]+}", s.answerQuestion).Methods(http.MethodPost)
	r.HandleFunc("/form/{id}/check-your-answers", s.checkAnswers).Methods(http.MethodGet)
	r.HandleFunc("/form/{id}/submit-answers", s.submitAnswers).Methods(http.MethodPost)
	r.HandleFunc("/form/{id}/submitted", s.submitted).Methods(http.MethodGet)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "healthy")
	}).Methods(http.MethodGet)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.latency > 0 {
		select {
		case <-time.After(s.latency):
		case <-r.Context().Done():
			return
		}
	}
	s.log.Debug("request", zap.String("method", r.Method), zap.String("path", r.URL.Path))
	s.router.ServeHTTP(w, r)
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	form, ok := s.forms[mux.Vars(r)["id"]]
	if !ok {
		s.fail(w, http.StatusNotFound, "Page not found", "No form with that ID")
		return
	}

	sid := uuid.NewString()
	sess := &session{formID: form.ID, answers: url.Values{}}

	s.mu.Lock()
	s.sessions[sid] = sess
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: CookieName, Value: sid, Path: "/", HttpOnly: true})
	s.renderNext(w, form, sess)
}

func (s *Server) showQuestion(w http.ResponseWriter, r *http.Request) {
	form, sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	n, err := strconv.Atoi(mux.Vars(r)["n"])
	if err != nil || n < 0 || n >= len(form.Questions) {
		s.fail(w, http.StatusNotFound, "Page not found", "No such question")
		return
	}
	s.renderQuestion(w, form, sess, n)
}

func (s *Server) answerQuestion(w http.ResponseWriter, r *http.Request) {
	form, sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if !s.parse(w, r, sess) {
		return
	}

	n, err := strconv.Atoi(mux.Vars(r)["n"])
	if err != nil || n != sess.next || n >= len(form.Questions) {
		s.fail(w, http.StatusUnprocessableEntity, "Question out of order", fmt.Sprintf("Expected question %d", sess.next))
		return
	}

	q := form.Questions[n]
	for _, f := range q.fields() {
		if r.PostForm.Get(f.Name) == "" {
			s.fail(w, http.StatusUnprocessableEntity, "There is a problem", "Enter "+f.Label)
			return
		}
	}

	s.mu.Lock()
	for _, f := range q.fields() {
		sess.answers.Set(f.Name, r.PostForm.Get(f.Name))
	}
	sess.next++
	s.mu.Unlock()

	if n+1 < len(form.Questions) {
		http.Redirect(w, r, fmt.Sprintf("/form/%s/question/%d", form.ID, n+1), http.StatusFound)
		return
	}
	http.Redirect(w, r, fmt.Sprintf("/form/%s/check-your-answers", form.ID), http.StatusFound)
}

func (s *Server) checkAnswers(w http.ResponseWriter, r *http.Request) {
	form, sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.renderCheck(w, form, sess)
}

func (s *Server) submitAnswers(w http.ResponseWriter, r *http.Request) {
	form, sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if !s.parse(w, r, sess) {
		return
	}
	if sess.next < len(form.Questions) {
		s.fail(w, http.StatusUnprocessableEntity, "There is a problem", "Answer every question before submitting")
		return
	}
	confirmation := r.PostForm.Get("email_confirmation_input[send_confirmation]")
	if form.AskConfirmation && confirmation == "" {
		s.fail(w, http.StatusUnprocessableEntity, "There is a problem", "Select whether you want a confirmation email")
		return
	}

	s.mu.Lock()
	s.submissions = append(s.submissions, Submission{
		FormID:       form.ID,
		Answers:      sess.answers,
		Confirmation: confirmation,
		Reference:    r.PostForm.Get("notify_reference"),
	})
	delete(s.sessions, cookieValue(r))
	s.mu.Unlock()

	http.Redirect(w, r, fmt.Sprintf("/form/%s/submitted", form.ID), http.StatusFound)
}

func (s *Server) submitted(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, pageData{Page: "submitted", Title: "Form submitted"})
}

// lookup resolves the form and the caller's session from the request.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (Form, *session, bool) {
	form, ok := s.forms[mux.Vars(r)["id"]]
	if !ok {
		s.fail(w, http.StatusNotFound, "Page not found", "No form with that ID")
		return Form{}, nil, false
	}

	s.mu.Lock()
	sess, ok := s.sessions[cookieValue(r)]
	s.mu.Unlock()
	if !ok || sess.formID != form.ID {
		s.fail(w, http.StatusUnprocessableEntity, "Session expired", "Your session has expired")
		return Form{}, nil, false
	}
	return form, sess, true
}

// parse reads the POST body, records it and checks the anti-forgery token.
func (s *Server) parse(w http.ResponseWriter, r *http.Request, sess *session) bool {
	if err := r.ParseForm(); err != nil {
		s.fail(w, http.StatusBadRequest, "Bad request", err.Error())
		return false
	}

	s.mu.Lock()
	if s.record {
		s.requests = append(s.requests, Request{Path: r.URL.Path, Form: r.PostForm})
	}
	valid := sess.token != "" && r.PostForm.Get("authenticity_token") == sess.token
	s.mu.Unlock()

	if !valid {
		s.fail(w, http.StatusUnprocessableEntity, "Invalid authenticity token", "Can't verify CSRF token authenticity")
		return false
	}
	return true
}

func (s *Server) renderNext(w http.ResponseWriter, form Form, sess *session) {
	if len(form.Questions) == 0 {
		s.renderCheck(w, form, sess)
		return
	}
	s.renderQuestion(w, form, sess, 0)
}

func (s *Server) renderQuestion(w http.ResponseWriter, form Form, sess *session, n int) {
	q := form.Questions[n]
	data := pageData{
		Page:   "question",
		Title:  fmt.Sprintf("Question %d", n+1),
		Action: fmt.Sprintf("/form/%s/question/%d", form.ID, n),
		Class:  q.class(),
		Fields: q.fields(),
	}
	token := s.rotate(sess)
	if !form.OmitToken {
		data.Token = token
	}
	s.render(w, http.StatusOK, data)
}

func (s *Server) renderCheck(w http.ResponseWriter, form Form, sess *session) {
	data := pageData{
		Page:            "check",
		Title:           "Check your answers",
		Action:          fmt.Sprintf("/form/%s/submit-answers", form.ID),
		Token:           s.rotate(sess),
		Reference:       uuid.NewString(),
		AskConfirmation: form.AskConfirmation,
	}

	s.mu.Lock()
	names := make([]string, 0, len(sess.answers))
	for name := range sess.answers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		data.Answers = append(data.Answers, answerRow{Name: name, Value: sess.answers.Get(name)})
	}
	s.mu.Unlock()

	s.render(w, http.StatusOK, data)
}

// rotate issues a fresh token for the session. Only the latest one is
// accepted.
func (s *Server) rotate(sess *session) string {
	token := uuid.NewString()
	s.mu.Lock()
	sess.token = token
	s.mu.Unlock()
	return token
}

func (s *Server) fail(w http.ResponseWriter, status int, title, message string) {
	s.mu.Lock()
	s.rejected++
	s.mu.Unlock()
	s.render(w, status, pageData{Page: "error", Title: title, Message: message})
}

type answerRow struct {
	Name  string
	Value string
}

type pageData struct {
	Page            string
	Title           string
	Message         string
	BannerToken     string
	Action          string
	Token           string
	Class           string
	Fields          []field
	Answers         []answerRow
	Reference       string
	AskConfirmation bool
}

func (s *Server) render(w http.ResponseWriter, status int, data pageData) {
	data.BannerToken = "cookie-banner"
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pages.Execute(w, data); err != nil {
		s.log.Error("render page", zap.String("page", data.Page), zap.Error(err))
	}
}

func cookieValue(r *http.Request) string {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// Submissions returns completed forms in arrival order.
func (s *Server) Submissions() []Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Submission, len(s.submissions))
	copy(out, s.submissions)
	return out
}

// Requests returns recorded POSTs. It is empty unless WithRequestLog was set.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Stats returns session and submission counts.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		Sessions:    len(s.sessions),
		Submissions: make(map[string]int),
		Rejected:    s.rejected,
	}
	for _, sub := range s.submissions {
		st.Submissions[sub.FormID]++
	}
	return st
}
