package httpx

import (
	"golang.org/x/time/rate"
	"net/http"
	"sync"
	"time"
)

const (
	limiterIdleTTL    = 10 * time.Minute
	limiterPruneAbove = 10000
)

type actorLimiter struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// ActorRateLimiter keeps one token bucket per authenticated actor.
type ActorRateLimiter struct {
	mu     sync.Mutex
	actors map[int64]*actorLimiter
	r      rate.Limit
	b      int
	now    func() time.Time
}

func NewActorRateLimiter(rps float64, burst int) *ActorRateLimiter {
	return &ActorRateLimiter{
		actors: make(map[int64]*actorLimiter),
		r:      rate.Limit(rps),
		b:      burst,
		now:    time.Now,
	}
}

func (a *ActorRateLimiter) Allow(actorID int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	if len(a.actors) > limiterPruneAbove {
		for id, al := range a.actors {
			if now.Sub(al.lastSeen) > limiterIdleTTL {
				delete(a.actors, id)
			}
		}
	}
	al, ok := a.actors[actorID]
	if !ok {
		al = &actorLimiter{l: rate.NewLimiter(a.r, a.b)}
		a.actors[actorID] = al
	}
	al.lastSeen = now
	return al.l.AllowN(now, 1)
}

// Middleware answers 429 once the actor's bucket is empty. It must run after
// Authenticate; a nil limiter lets everything through.
func (a *ActorRateLimiter) Middleware(next http.Handler) http.Handler {
	if a == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFrom(r.Context())
		if ok && !a.Allow(actor.ID) {
			w.Header().Set("Retry-After", "1")
			writeMessage(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
