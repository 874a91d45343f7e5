package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/CalorieCoach/internal/coach"
	"github.com/BTreeMap/CalorieCoach/internal/models"
)

const (
	// DefaultTurnTimeout bounds one coaching turn, retries included.
	DefaultTurnTimeout = 3 * time.Minute
	// senderQueueSize bounds the messages waiting behind a running turn for one sender.
	senderQueueSize = 16
	// senderIdleTimeout ends a sender's worker after this long without messages.
	senderIdleTimeout = 5 * time.Minute
)

// Chat commands. Each has a Korean and an English spelling.
const (
	cmdIntensity = "/강도"
	cmdProfile   = "/프로필"
	cmdFoods     = "/음식"
	cmdReset     = "/초기화"
	cmdHelp      = "/도움말"
)

var commandAliases = map[string]string{
	cmdIntensity: cmdIntensity, "/intensity": cmdIntensity,
	cmdProfile: cmdProfile, "/profile": cmdProfile,
	cmdFoods: cmdFoods, "/foods": cmdFoods,
	cmdReset: cmdReset, "/reset": cmdReset,
	cmdHelp: cmdHelp, "/help": cmdHelp, "/start": cmdHelp,
}

// chatSessionPrefix namespaces chat sessions in the shared SessionStore.
const chatSessionPrefix = "chat:"

// ChatSessionKey returns the SessionStore key for a canonical chat sender.
func ChatSessionKey(from string) string {
	return chatSessionPrefix + from
}

// errUnknownProfileKey is returned for /프로필 keys outside the profile fields.
var errUnknownProfileKey = errors.New("unknown profile key")

// ChatHandler routes inbound chat messages to commands or coaching turns. Each sender
// gets a session keyed by ChatSessionKey of the canonical phone number; a sender's messages are handled
// in arrival order while different senders proceed concurrently.
type ChatHandler struct {
	svc          Service
	sessions     *coach.SessionStore
	orchestrator *coach.Orchestrator
	turnTimeout  time.Duration

	mu     sync.Mutex
	queues map[string]chan models.Response
	wg     sync.WaitGroup
}

// NewChatHandler creates a ChatHandler. A non-positive turnTimeout uses DefaultTurnTimeout.
func NewChatHandler(svc Service, sessions *coach.SessionStore, orchestrator *coach.Orchestrator, turnTimeout time.Duration) *ChatHandler {
	if turnTimeout <= 0 {
		turnTimeout = DefaultTurnTimeout
	}
	return &ChatHandler{
		svc:          svc,
		sessions:     sessions,
		orchestrator: orchestrator,
		turnTimeout:  turnTimeout,
		queues:       make(map[string]chan models.Response),
	}
}

// Start consumes the service's inbound messages until the channel closes or ctx ends.
func (h *ChatHandler) Start(ctx context.Context) {
	slog.Info("ChatHandler.Start: processing inbound messages")
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case resp, ok := <-h.svc.Responses():
				if !ok {
					slog.Debug("ChatHandler.Start: responses channel closed")
					return
				}
				h.dispatch(ctx, resp)
			case <-ctx.Done():
				slog.Debug("ChatHandler.Start: stopping due to context cancellation")
				return
			}
		}
	}()
}

// Wait blocks until the consumer loop and every sender worker have exited.
func (h *ChatHandler) Wait() {
	h.wg.Wait()
}

// dispatch queues resp on its sender's worker, starting one if needed.
func (h *ChatHandler) dispatch(ctx context.Context, resp models.Response) {
	h.mu.Lock()
	defer h.mu.Unlock()
	q, ok := h.queues[resp.From]
	if !ok {
		q = make(chan models.Response, senderQueueSize)
		h.queues[resp.From] = q
		h.wg.Add(1)
		go h.worker(ctx, resp.From, q)
	}
	select {
	case q <- resp:
	default:
		slog.Warn("ChatHandler.dispatch: sender queue full, dropping message", "from", resp.From)
	}
}

func (h *ChatHandler) worker(ctx context.Context, from string, q chan models.Response) {
	defer h.wg.Done()
	idle := time.NewTimer(senderIdleTimeout)
	defer idle.Stop()
	for {
		select {
		case resp := <-q:
			if err := h.ProcessResponse(ctx, resp); err != nil {
				slog.Error("ChatHandler.worker: failed to process message", "error", err, "from", from)
			}
			idle.Reset(senderIdleTimeout)
		case <-idle.C:
			h.mu.Lock()
			if len(q) == 0 {
				delete(h.queues, from)
				h.mu.Unlock()
				return
			}
			h.mu.Unlock()
			idle.Reset(senderIdleTimeout)
		case <-ctx.Done():
			return
		}
	}
}

// ProcessResponse handles one inbound message and sends the reply. First contact
// is greeted before the message itself is handled.
func (h *ChatHandler) ProcessResponse(ctx context.Context, resp models.Response) error {
	from, err := h.svc.ValidateAndCanonicalizeRecipient(resp.From)
	if err != nil {
		slog.Warn("ChatHandler.ProcessResponse: invalid sender", "error", err, "from", resp.From)
		return fmt.Errorf("invalid sender: %w", err)
	}

	sess, created := h.sessions.GetOrCreate(ChatSessionKey(from))
	if created {
		if err := h.svc.SendMessage(ctx, from, coach.Greeting); err != nil {
			slog.Warn("ChatHandler.ProcessResponse: failed to send greeting", "error", err, "from", from)
		}
	}

	turnCtx, cancel := context.WithTimeout(ctx, h.turnTimeout)
	defer cancel()
	reply := h.Reply(turnCtx, sess, resp.Body)

	if err := h.svc.SendMessage(ctx, from, reply); err != nil {
		return fmt.Errorf("failed to send reply: %w", err)
	}
	slog.Info("ChatHandler.ProcessResponse: reply sent", "from", from, "reply_length", len(reply))
	return nil
}

// Reply answers text for sess: a command result or a formatted coaching reply.
func (h *ChatHandler) Reply(ctx context.Context, sess *coach.Session, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return HelpText
	}
	if !strings.HasPrefix(text, "/") {
		return FormatReply(sess.Turn(ctx, h.orchestrator, text, ""))
	}

	fields := strings.Fields(text)
	cmd, ok := commandAliases[strings.ToLower(fields[0])]
	if !ok {
		return "모르는 명령어야. /도움말 을 입력해봐."
	}
	args := fields[1:]
	slog.Debug("ChatHandler.Reply: command", "sessionID", sess.ID, "command", cmd, "args", len(args))

	switch cmd {
	case cmdIntensity:
		return h.intensityCommand(sess, args)
	case cmdProfile:
		return h.profileCommand(sess, args)
	case cmdFoods:
		return FormatFoods()
	case cmdReset:
		sess.Reset()
		return "대화와 프로필을 초기화했어.\n" + coach.Greeting
	default:
		return HelpText
	}
}

func (h *ChatHandler) intensityCommand(sess *coach.Session, args []string) string {
	if len(args) == 0 {
		return "현재 운동 강도: " + sess.Intensity().Label()
	}
	intensity, err := models.ParseIntensity(args[0])
	if err == nil {
		err = sess.SetIntensity(intensity)
	}
	if err != nil {
		return "강도는 약, 보통, 강 중에서 골라줘."
	}
	return "운동 강도를 '" + intensity.Label() + "'(으)로 바꿨어."
}

func (h *ChatHandler) profileCommand(sess *coach.Session, args []string) string {
	if len(args) == 0 {
		return "[현재 프로필]\n" + sess.Profile().Summary()
	}
	update, err := ParseProfileArgs(args)
	if err != nil {
		return "프로필 형식을 확인해줘: " + err.Error() + "\n예) /프로필 키=170 몸무게=65 성별=남성"
	}
	profile, err := sess.Profile().Update(update)
	if err != nil {
		return "프로필 값을 확인해줘: " + err.Error()
	}
	return "프로필을 저장했어.\n" + coach.ProfileSummary(&profile)
}

// ParseProfileArgs parses key=value pairs into a partial profile update.
// Keys: 키, 몸무게, 나이, 성별, 목표, 걸음 (or height, weight, age, sex, goal, steps).
// Numeric values may carry their unit (cm, kg, 세, 보).
func ParseProfileArgs(args []string) (models.ProfileUpdate, error) {
	var u models.ProfileUpdate
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || value == "" {
			return models.ProfileUpdate{}, fmt.Errorf("%q 는 키=값 형식이 아니야", arg)
		}
		switch strings.ToLower(key) {
		case "키", "height":
			v, err := parseMetric(value, "cm")
			if err != nil {
				return models.ProfileUpdate{}, err
			}
			u.HeightCM = &v
		case "몸무게", "weight":
			v, err := parseMetric(value, "kg")
			if err != nil {
				return models.ProfileUpdate{}, err
			}
			u.WeightKG = &v
		case "나이", "age":
			v, err := strconv.Atoi(strings.TrimSuffix(value, "세"))
			if err != nil {
				return models.ProfileUpdate{}, fmt.Errorf("나이 %q: %w", value, err)
			}
			u.Age = &v
		case "성별", "sex":
			sex, err := models.ParseSex(value)
			if err != nil {
				return models.ProfileUpdate{}, err
			}
			u.Sex = &sex
		case "목표", "goal":
			goal, err := models.ParseGoal(value)
			if err != nil {
				return models.ProfileUpdate{}, err
			}
			u.Goal = &goal
		case "걸음", "steps":
			v, err := strconv.Atoi(strings.ReplaceAll(strings.TrimSuffix(value, "보"), ",", ""))
			if err != nil {
				return models.ProfileUpdate{}, fmt.Errorf("걸음 %q: %w", value, err)
			}
			u.DailySteps = &v
		default:
			return models.ProfileUpdate{}, fmt.Errorf("%w: %s", errUnknownProfileKey, key)
		}
	}
	return u, nil
}

func parseMetric(value, unit string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSuffix(strings.ToLower(value), unit), 64)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", value, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%q 는 숫자가 아니야", value)
	}
	return v, nil
}
