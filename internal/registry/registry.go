package registry

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"deposit-reconciler-go/internal/models"

	"go.uber.org/zap"
)

// maxIssueAttempts bounds collisions against live codes before Issue gives up.
const maxIssueAttempts = 16

var ErrCodeSpaceExhausted = errors.New("unable to allocate a unique deposit code")

// Config describes the shape and lifetime of issued codes.
type Config struct {
	Prefix   string
	Alphabet string
	Length   int
	TTL      time.Duration
}

// Registry maps short-lived deposit codes to owners. Each owner has at most
// one live code and a code is handed out to one consumer only.
type Registry struct {
	mutex   sync.Mutex
	cfg     Config
	byCode  map[string]models.DepositCode
	byOwner map[string]string
	now     func() time.Time
	gen     func() (string, error)
}

func New(cfg Config) *Registry {
	return &Registry{
		cfg:     cfg,
		byCode:  make(map[string]models.DepositCode),
		byOwner: make(map[string]string),
		now:     time.Now,
	}
}

// WithClock replaces the time source. Tests only.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// WithGenerator replaces random code generation. Tests only.
func (r *Registry) WithGenerator(gen func() (string, error)) *Registry {
	r.gen = gen
	return r
}

// TTL reports how long an issued code stays live.
func (r *Registry) TTL() time.Duration {
	return r.cfg.TTL
}

// Issue allocates a fresh code for ownerId, invalidating any code it already held.
func (r *Registry) Issue(ownerId string) (models.DepositCode, error) {
	if ownerId == "" {
		return models.DepositCode{}, fmt.Errorf("owner id is required")
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := r.now()
	r.sweepLocked(now)
	if previous, ok := r.byOwner[ownerId]; ok {
		delete(r.byCode, previous)
		delete(r.byOwner, ownerId)
	}

	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		generate := r.generate
		if r.gen != nil {
			generate = r.gen
		}
		code, err := generate()
		if err != nil {
			return models.DepositCode{}, err
		}
		if _, taken := r.byCode[code]; taken {
			continue
		}

		issued := models.DepositCode{Code: code, OwnerId: ownerId, CreatedAt: now}
		r.byCode[code] = issued
		r.byOwner[ownerId] = code

		zap.L().Info("Deposit code issued",
			zap.String("owner_id", ownerId),
			zap.String("code", code),
			zap.Time("expires_at", now.Add(r.cfg.TTL)))
		return issued, nil
	}

	return models.DepositCode{}, ErrCodeSpaceExhausted
}

// Consume removes a live code and returns its owner. Expired codes are
// removed and reported as no match.
func (r *Registry) Consume(code string) (string, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", false
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	entry, ok := r.byCode[code]
	if !ok {
		return "", false
	}

	r.removeLocked(entry)
	if r.expired(entry, r.now()) {
		zap.L().Info("Deposit code expired before use",
			zap.String("code", code),
			zap.String("owner_id", entry.OwnerId))
		return "", false
	}

	return entry.OwnerId, true
}

// Lookup returns the owner's live code, if any.
func (r *Registry) Lookup(ownerId string) (models.DepositCode, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	code, ok := r.byOwner[ownerId]
	if !ok {
		return models.DepositCode{}, false
	}
	entry := r.byCode[code]
	if r.expired(entry, r.now()) {
		r.removeLocked(entry)
		return models.DepositCode{}, false
	}
	return entry, true
}

// Sweep drops every expired code and returns how many were removed.
func (r *Registry) Sweep() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.sweepLocked(r.now())
}

func (r *Registry) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.byCode)
}

func (r *Registry) sweepLocked(now time.Time) int {
	removed := 0
	for _, entry := range r.byCode {
		if r.expired(entry, now) {
			r.removeLocked(entry)
			removed++
		}
	}
	return removed
}

func (r *Registry) removeLocked(entry models.DepositCode) {
	delete(r.byCode, entry.Code)
	if r.byOwner[entry.OwnerId] == entry.Code {
		delete(r.byOwner, entry.OwnerId)
	}
}

func (r *Registry) expired(entry models.DepositCode, now time.Time) bool {
	return now.Sub(entry.CreatedAt) > r.cfg.TTL
}

func (r *Registry) generate() (string, error) {
	alphabet := []rune(r.cfg.Alphabet)
	max := big.NewInt(int64(len(alphabet)))

	var sb strings.Builder
	sb.WriteString(r.cfg.Prefix)
	for i := 0; i < r.cfg.Length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		sb.WriteRune(alphabet[n.Int64()])
	}
	return strings.ToUpper(sb.String()), nil
}
