package viewstate

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brettboylen/reddit-trend-analyzer/analyzer"
	"github.com/brettboylen/reddit-trend-analyzer/models"
)

// MessageEmptyQuery is shown when both inputs are blank
const MessageEmptyQuery = "Please enter keywords or subreddit to analyze."

const (
	messageTransport = "Failed to analyze. The analysis service could not be reached."
	messageTimeout   = "Failed to analyze. The analysis service did not respond in time."
	messageCanceled  = "Analysis was cancelled."
	messageMalformed = "Failed to analyze. The analysis service returned an unreadable response."
)

var (
	// ErrEmptyQuery is returned by Submit when keywords and subreddit are both blank
	ErrEmptyQuery = errors.New("keywords and subreddit are both empty")
	// ErrInFlight is returned by Submit while a previous submit is still loading
	ErrInFlight = errors.New("an analysis is already in progress")
)

// Analyzer runs one analysis against the webhook
type Analyzer interface {
	Analyze(ctx context.Context, request models.AnalysisRequest) (models.AnalysisResult, error)
}

// Controller owns one session's ViewState. All mutations go through its
// methods; reads return snapshots and are safe from any goroutine.
type Controller struct {
	analyzer Analyzer
	timeout  time.Duration
	log      *logrus.Logger

	// notifyMutex serializes transitions with their notifications so
	// listeners observe states in the order they happened
	notifyMutex  sync.Mutex
	mutex        sync.RWMutex
	state        ViewState
	listeners    map[int]func(ViewState)
	nextListener int
}

// NewController creates an idle controller. A positive timeout is applied to
// every analysis call.
func NewController(analyzer Analyzer, timeout time.Duration, log *logrus.Logger) *Controller {
	return &Controller{
		analyzer: analyzer,
		timeout:  timeout,
		log:      log,
		state: ViewState{
			Phase:  PhaseIdle,
			Filter: FilterAll,
			Sort:   SortTopUpvotes,
		},
		listeners: make(map[int]func(ViewState)),
	}
}

// State returns a snapshot of the current view state
func (c *Controller) State() ViewState {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.state.clone()
}

// VisiblePosts returns the filtered, sorted posts of the current result, or
// an empty slice when there is no result
func (c *Controller) VisiblePosts() []models.Post {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if c.state.Result == nil {
		return []models.Post{}
	}
	return Derive(c.state.Result.Posts, c.state.Filter, c.state.Sort)
}

// Subscribe registers fn to receive a snapshot after every state change.
// fn runs on the goroutine that made the change and must not call back into
// the controller's mutating methods.
func (c *Controller) Subscribe(fn func(ViewState)) (unsubscribe func()) {
	c.mutex.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	c.mutex.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mutex.Lock()
			delete(c.listeners, id)
			c.mutex.Unlock()
		})
	}
}

// Submit starts an analysis. Blank input moves the session to PhaseError and
// returns ErrEmptyQuery without calling the webhook; a submit while loading
// returns ErrInFlight and changes nothing. Otherwise the session enters
// PhaseLoading and the returned channel is closed once it has settled into
// PhaseSuccess or PhaseError. ctx bounds the analysis call, not Submit.
func (c *Controller) Submit(ctx context.Context, keywords, subreddit string) (<-chan struct{}, error) {
	request := models.AnalysisRequest{
		Keywords:  strings.TrimSpace(keywords),
		Subreddit: strings.TrimSpace(subreddit),
	}

	err := c.transition(func(state *ViewState) (bool, error) {
		if state.Phase == PhaseLoading {
			return false, ErrInFlight
		}

		state.Result = nil
		if request.Keywords == "" && request.Subreddit == "" {
			state.Phase = PhaseError
			state.ErrorMessage = MessageEmptyQuery
			return true, ErrEmptyQuery
		}

		state.Phase = PhaseLoading
		state.ErrorMessage = ""
		return true, nil
	})
	if err != nil {
		c.log.WithError(err).Debug("Submit refused")
		return nil, err
	}

	c.log.WithFields(logrus.Fields{
		"keywords":  request.Keywords,
		"subreddit": request.Subreddit,
	}).Debug("Submit accepted")

	done := make(chan struct{})
	go c.run(ctx, request, done)
	return done, nil
}

// SetFilter changes which posts VisiblePosts returns
func (c *Controller) SetFilter(filter Filter) error {
	parsed, err := ParseFilter(string(filter))
	if err != nil {
		return err
	}
	return c.transition(func(state *ViewState) (bool, error) {
		state.Filter = parsed
		return true, nil
	})
}

// SetSort changes the order VisiblePosts returns posts in
func (c *Controller) SetSort(order Sort) error {
	parsed, err := ParseSort(string(order))
	if err != nil {
		return err
	}
	return c.transition(func(state *ViewState) (bool, error) {
		state.Sort = parsed
		return true, nil
	})
}

func (c *Controller) run(ctx context.Context, request models.AnalysisRequest, done chan<- struct{}) {
	defer close(done)

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	result, err := c.analyzer.Analyze(callCtx, request)

	_ = c.transition(func(state *ViewState) (bool, error) {
		if err != nil {
			state.Phase = PhaseError
			state.Result = nil
			state.ErrorMessage = errorMessage(err)
			return true, nil
		}

		state.Phase = PhaseSuccess
		state.Result = &result
		state.ErrorMessage = ""
		return true, nil
	})
}

// transition applies fn to the state and, if fn reports a change, notifies
// listeners with the resulting snapshot
func (c *Controller) transition(fn func(state *ViewState) (bool, error)) error {
	c.notifyMutex.Lock()
	defer c.notifyMutex.Unlock()

	c.mutex.Lock()
	changed, err := fn(&c.state)
	if !changed {
		c.mutex.Unlock()
		return err
	}
	snapshot := c.state.clone()
	listeners := make([]func(ViewState), 0, len(c.listeners))
	for _, listener := range c.listeners {
		listeners = append(listeners, listener)
	}
	c.mutex.Unlock()

	for _, notify := range listeners {
		notify(snapshot)
	}
	return err
}

// errorMessage turns an analysis failure into text for the user
func errorMessage(err error) string {
	var rejected *analyzer.RejectedError
	var malformed *analyzer.MalformedError
	var netErr net.Error

	switch {
	case errors.As(err, &rejected):
		return rejected.Error()
	case errors.As(err, &malformed):
		return messageMalformed
	case errors.Is(err, context.DeadlineExceeded):
		return messageTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return messageTimeout
	case errors.Is(err, context.Canceled):
		return messageCanceled
	default:
		return messageTransport
	}
}
