package game

import (
	"strings"
	"sync"

	"github.com/annel0/wordle-server/internal/auth"
	"github.com/annel0/wordle-server/internal/logging"
)

// User учётная запись игрока вместе с историей раундов
type User struct {
	Username   string   `json:"username"`
	Digest     string   `json:"digest"`
	Salt       string   `json:"salt"`
	Online     bool     `json:"-"`
	SessionID  string   `json:"-"`
	Rounds     []*Round `json:"rounds"`
	LastStreak int      `json:"lastStreak"`
	BestStreak int      `json:"bestStreak"`
	Seq        int64    `json:"seq"`
}

func (u *User) lastRound() *Round {
	if len(u.Rounds) == 0 {
		return nil
	}
	return u.Rounds[len(u.Rounds)-1]
}

func (u *User) finish(r *Round, won bool) {
	r.Finished = true
	r.Won = won
	if won {
		u.LastStreak++
		if u.LastStreak > u.BestStreak {
			u.BestStreak = u.LastStreak
		}
	} else {
		u.LastStreak = 0
	}
}

func (u *User) clone() User {
	c := *u
	c.Rounds = make([]*Round, len(u.Rounds))
	for i, r := range u.Rounds {
		c.Rounds[i] = r.clone()
	}
	return c
}

// GuessOutcome результат принятой попытки
type GuessOutcome struct {
	Round Round
	// JustFinished раунд завершился именно этой попыткой
	JustFinished bool
}

// Store реестр пользователей. Все операции сериализуются одним мьютексом;
// хеширование пароля выполняется вне блокировки.
type Store struct {
	mu      sync.Mutex
	users   map[string]*User
	order   []*User
	nextSeq int64
	lastTop []string

	cred   auth.Credential
	logger *logging.Logger
}

// NewStore создаёт пустой реестр
func NewStore(cred auth.Credential) *Store {
	if cred == nil {
		cred = auth.NewBcryptCredential()
	}
	return &Store{
		users:   make(map[string]*User),
		nextSeq: 1,
		cred:    cred,
		logger:  logging.GetGameLogger(),
	}
}

// Register создаёт пользователя
func (s *Store) Register(username, secret string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return ErrUsernameRequired
	}
	if secret == "" {
		return ErrPasswordRequired
	}

	s.mu.Lock()
	_, exists := s.users[username]
	s.mu.Unlock()
	if exists {
		return ErrUsernameAlreadyUsed
	}

	salt, err := auth.NewSalt()
	if err != nil {
		return err
	}
	digest, err := s.cred.Hash(secret, salt)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// повторная проверка: параллельная регистрация того же имени
	if _, exists := s.users[username]; exists {
		return ErrUsernameAlreadyUsed
	}
	u := &User{
		Username: username,
		Digest:   digest,
		Salt:     salt,
		Seq:      s.nextSeq,
	}
	s.nextSeq++
	s.users[username] = u
	s.order = append(s.order, u)

	s.logger.Info("👤 Зарегистрирован пользователь %s", username)
	return nil
}

// Login привязывает пользователя к сессии соединения
func (s *Store) Login(username, secret, sessionID string) error {
	if secret == "" {
		return ErrPasswordRequired
	}

	s.mu.Lock()
	u, ok := s.users[username]
	var digest, salt string
	if ok {
		digest, salt = u.Digest, u.Salt
	}
	s.mu.Unlock()

	if !ok || !s.cred.Verify(secret, digest, salt) {
		return ErrInvalidCredentials
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if u.Online {
		return ErrAlreadyLoggedIn
	}
	// на одном соединении может быть только один пользователь
	if s.boundLocked(sessionID) != nil {
		return ErrAlreadyLoggedIn
	}
	u.Online = true
	u.SessionID = sessionID

	s.logger.Info("🔐 Вход пользователя %s (сессия %s)", username, sessionID)
	return nil
}

// Logout завершает сессию пользователя
func (s *Store) Logout(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok || !u.Online {
		return ErrInvalidUsername
	}
	u.Online = false
	u.SessionID = ""

	s.logger.Info("👋 Выход пользователя %s", username)
	return nil
}

// LogoutBySession принудительно завершает все сессии, привязанные к соединению,
// и засчитывает незавершённые раунды как брошенные. Возвращает имена вышедших.
func (s *Store) LogoutBySession(sessionID string) []string {
	if sessionID == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var names []string
	for _, u := range s.order {
		if !u.Online || u.SessionID != sessionID {
			continue
		}
		u.Online = false
		u.SessionID = ""
		if r := u.lastRound(); r != nil && !r.Finished {
			r.Abandoned = true
			u.finish(r, false)
		}
		s.logger.Info("⚠️ Принудительный выход %s: соединение %s закрыто", u.Username, sessionID)
		names = append(names, u.Username)
	}
	return names
}

func (s *Store) boundLocked(sessionID string) *User {
	if sessionID == "" {
		return nil
	}
	for _, u := range s.order {
		if u.Online && u.SessionID == sessionID {
			return u
		}
	}
	return nil
}

// RequireSession проверяет, что пользователь вошёл именно через это соединение
func (s *Store) RequireSession(username, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok || !u.Online || u.SessionID != sessionID {
		return ErrInvalidUsername
	}
	return nil
}

// GetOrStartRound возвращает незавершённый раунд текущего слова,
// ErrAlreadyPlayed если он уже сыгран, либо начинает новый.
func (s *Store) GetOrStartRound(username, word string, roundNumber int) (Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok {
		return Round{}, ErrInvalidUsername
	}

	if r := u.lastRound(); r != nil && r.Matches(word, roundNumber) {
		if r.Finished {
			return Round{}, ErrAlreadyPlayed
		}
		return *r.clone(), nil
	}

	r := &Round{Word: word, RoundNumber: roundNumber}
	u.Rounds = append(u.Rounds, r)
	s.logger.Debug("Пользователь %s начал раунд #%d", username, roundNumber)
	return *r.clone(), nil
}

// ApplyGuess проверяет и применяет попытку к текущему раунду пользователя.
// Попытка расходуется только после проверки длины и словаря.
func (s *Store) ApplyGuess(username, word string, roundNumber int, guess string, inDictionary func(string) bool) (GuessOutcome, error) {
	guess = strings.ToLower(strings.TrimSpace(guess))

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok {
		return GuessOutcome{}, ErrInvalidUsername
	}

	r := u.lastRound()
	if r == nil {
		return GuessOutcome{}, ErrNeedToStartRound
	}
	if !r.Matches(word, roundNumber) {
		if !r.Finished {
			// слово сменилось во время игры - устаревший раунд отбрасывается
			u.Rounds = u.Rounds[:len(u.Rounds)-1]
		}
		return GuessOutcome{}, ErrNeedToStartRound
	}
	if r.Finished {
		return GuessOutcome{}, ErrAlreadyPlayed
	}
	if len(guess) != len(r.Word) {
		return GuessOutcome{}, ErrInvalidWordLength
	}
	if inDictionary != nil && !inDictionary(guess) {
		return GuessOutcome{}, ErrWordNotInDictionary
	}

	r.Guesses = append(r.Guesses, Feedback(r.Word, guess))
	r.Attempts++

	won := guess == r.Word
	justFinished := false
	if won || r.Attempts == MaxAttempts {
		u.finish(r, won)
		justFinished = true
	}

	return GuessOutcome{Round: *r.clone(), JustFinished: justFinished}, nil
}

// LastFinishedRound последний завершённый раунд пользователя
func (s *Store) LastFinishedRound(username string) (Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok {
		return Round{}, ErrInvalidUsername
	}
	for i := len(u.Rounds) - 1; i >= 0; i-- {
		if u.Rounds[i].Finished {
			return *u.Rounds[i].clone(), nil
		}
	}
	return Round{}, ErrNoGameToShare
}

// User возвращает копию пользователя
func (s *Store) User(username string) (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok {
		return User{}, false
	}
	return u.clone(), true
}

// Snapshot копия всех пользователей в порядке регистрации для сохранения
func (s *Store) Snapshot() []User {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]User, 0, len(s.order))
	for _, u := range s.order {
		c := u.clone()
		c.Online = false
		c.SessionID = ""
		out = append(out, c)
	}
	return out
}

// Restore загружает пользователей из хранилища. Существующие имена не перезаписываются.
func (s *Store) Restore(users []User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range users {
		c := users[i].clone()
		if _, exists := s.users[c.Username]; exists || c.Username == "" {
			continue
		}
		c.Online = false
		c.SessionID = ""
		u := &c
		if u.Seq >= s.nextSeq {
			s.nextSeq = u.Seq + 1
		} else if u.Seq == 0 {
			u.Seq = s.nextSeq
			s.nextSeq++
		}
		s.users[u.Username] = u
		s.order = append(s.order, u)
	}
	sortBySeq(s.order)
	s.logger.Info("📦 Восстановлено пользователей: %d", len(s.order))
}
