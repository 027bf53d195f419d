// Package roster is the read-only identity collaborator. The engine never
// owns participant records; it resolves them through a Provider.
package roster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Dosada05/format-engine/models"
)

var ErrParticipantNotFound = errors.New("participant not found in roster")

type Provider interface {
	GetParticipant(ctx context.Context, id int) (*models.Participant, error)
}

// HTTPProvider resolves participants from the roster service's REST API.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

func NewHTTPProvider(baseURL string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (p *HTTPProvider) GetParticipant(ctx context.Context, id int) (*models.Participant, error) {
	url := fmt.Sprintf("%s/participants/%d", p.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build roster request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("roster request failed for participant %d: %w", id, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrParticipantNotFound
	default:
		return nil, fmt.Errorf("roster returned status %d for participant %d", resp.StatusCode, id)
	}

	var participant models.Participant
	if err := json.NewDecoder(resp.Body).Decode(&participant); err != nil {
		return nil, fmt.Errorf("failed to decode roster response for participant %d: %w", id, err)
	}
	return &participant, nil
}

// StaticProvider serves a fixed participant set; used in tests and local
// development without a roster service.
type StaticProvider struct {
	mu           sync.RWMutex
	participants map[int]*models.Participant
}

func NewStaticProvider(participants ...*models.Participant) *StaticProvider {
	p := &StaticProvider{participants: make(map[int]*models.Participant)}
	for _, participant := range participants {
		p.participants[participant.ID] = participant
	}
	return p
}

func (p *StaticProvider) Add(participant *models.Participant) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.participants[participant.ID] = participant
}

func (p *StaticProvider) GetParticipant(_ context.Context, id int) (*models.Participant, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	participant, ok := p.participants[id]
	if !ok {
		return nil, ErrParticipantNotFound
	}
	return participant, nil
}
