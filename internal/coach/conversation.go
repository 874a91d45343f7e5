package coach

import (
	"sync"
	"time"

	"github.com/BTreeMap/CalorieCoach/internal/models"
)

// ConversationLog is an append-only list of turns. It starts empty; greetings
// belong to the presentation layer and are not logged.
type ConversationLog struct {
	mu    sync.RWMutex
	turns []models.ConversationTurn
	now   func() time.Time
}

// NewConversationLog returns an empty log.
func NewConversationLog() *ConversationLog {
	return &ConversationLog{now: time.Now}
}

// Append adds a turn and returns it. Turns are never modified afterwards: the log
// keeps its own deep copy of content and hands out copies.
func (l *ConversationLog) Append(role models.Role, content models.Content) models.ConversationTurn {
	l.mu.Lock()
	defer l.mu.Unlock()
	turn := models.ConversationTurn{Role: role, Content: content.Clone(), CreatedAt: l.now()}
	l.turns = append(l.turns, turn)
	return cloneTurn(turn)
}

// Turns returns a deep copy of the log in chronological order.
func (l *ConversationLog) Turns() []models.ConversationTurn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.ConversationTurn, len(l.turns))
	for i, turn := range l.turns {
		out[i] = cloneTurn(turn)
	}
	return out
}

func cloneTurn(t models.ConversationTurn) models.ConversationTurn {
	t.Content = t.Content.Clone()
	return t
}

// Len returns the number of turns.
func (l *ConversationLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.turns)
}
