package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/annel0/wordle-server/internal/game"
)

// Command идентификатор команды клиента
type Command string

const (
	CmdLogin          Command = "LOGIN"
	CmdLogout         Command = "LOGOUT"
	CmdPlayRound      Command = "PLAY_ROUND"
	CmdSubmitGuess    Command = "SUBMIT_GUESS"
	CmdStats          Command = "STATS"
	CmdShareLastRound Command = "SHARE_LAST_ROUND"
)

// Known сообщает, входит ли команда в поддерживаемый набор
func (c Command) Known() bool {
	switch c {
	case CmdLogin, CmdLogout, CmdPlayRound, CmdSubmitGuess, CmdStats, CmdShareLastRound:
		return true
	}
	return false
}

// Code код ответа сервера
type Code string

const (
	CodeOK                      Code = "OK"
	CodeBadRequest              Code = "BAD_REQUEST"
	CodeInvalidCommand          Code = "INVALID_COMMAND"
	CodeUsernameRequired        Code = "USERNAME_REQUIRED"
	CodePasswordRequired        Code = "PASSWORD_REQUIRED"
	CodeUsernameAlreadyUsed     Code = "USERNAME_ALREADY_USED"
	CodeInvalidUsername         Code = "INVALID_USERNAME"
	CodeInvalidUsernamePassword Code = "INVALID_USERNAME_PASSWORD"
	CodeAlreadyLoggedIn         Code = "ALREADY_LOGGED_IN"
	CodeInvalidWordLength       Code = "INVALID_WORD_LENGTH"
	CodeWordNotInDictionary     Code = "WORD_NOT_IN_DICTIONARY"
	CodeGameAlreadyPlayed       Code = "GAME_ALREADY_PLAYED"
	CodeNeedToStartRound        Code = "NEED_TO_START_ROUND"
	CodeGameWon                 Code = "GAME_WON"
	CodeGameLost                Code = "GAME_LOST"
	CodeNoGameToShare           Code = "NO_GAME_TO_SHARE"
	CodeInternalServerError     Code = "INTERNAL_SERVER_ERROR"
)

var (
	ErrMalformed  = errors.New("malformed request")
	ErrBadRequest = errors.New("command and username are required")
)

// Request запрос клиента
type Request struct {
	Command   Command  `json:"command"`
	Username  string   `json:"username"`
	Arguments []string `json:"arguments,omitempty"`
	Data      string   `json:"data,omitempty"`
}

// Arg возвращает i-й аргумент или пустую строку
func (r *Request) Arg(i int) string {
	if i < 0 || i >= len(r.Arguments) {
		return ""
	}
	return r.Arguments[i]
}

// Payload данные команды: поле data, иначе первый аргумент
func (r *Request) Payload() string {
	if r.Data != "" {
		return r.Data
	}
	return r.Arg(0)
}

// Response ответ сервера
type Response struct {
	Code              Code           `json:"code"`
	RemainingAttempts *int           `json:"remainingAttempts,omitempty"`
	UserGuess         []game.Guess   `json:"userGuess,omitempty"`
	Stat              *game.UserStat `json:"stat,omitempty"`
	WordTranslation   string         `json:"wordTranslation,omitempty"`
	PushToken         string         `json:"pushToken,omitempty"`
}

// NewResponse ответ с одним кодом
func NewResponse(code Code) *Response {
	return &Response{Code: code}
}

// WithRemaining устанавливает число оставшихся попыток
func (r *Response) WithRemaining(n int) *Response {
	r.RemainingAttempts = &n
	return r
}

// DecodeRequest разбирает JSON запроса и проверяет обязательные поля
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	req.Command = Command(strings.ToUpper(strings.TrimSpace(string(req.Command))))
	req.Username = strings.TrimSpace(req.Username)
	if req.Command == "" || req.Username == "" {
		return &req, ErrBadRequest
	}
	return &req, nil
}

// EncodeRequest сериализует запрос (используется клиентом и тестами)
func EncodeRequest(req *Request) ([]byte, error) {
	return json.Marshal(req)
}

// EncodeResponse сериализует ответ
func EncodeResponse(resp *Response) ([]byte, error) {
	return json.Marshal(resp)
}

// DecodeResponse разбирает ответ сервера
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &resp, nil
}

// SharePayload сообщение группе о сыгранном раунде
type SharePayload struct {
	Username    string       `json:"username"`
	RoundNumber int          `json:"roundNumber"`
	Hints       []game.Guess `json:"hints"`
}

// PushType тип push-сообщения
type PushType string

const (
	PushRank  PushType = "rank"
	PushShare PushType = "share"
)

// PushMessage сообщение, доставляемое по push-каналу
type PushMessage struct {
	Type  PushType         `json:"type"`
	Rank  []game.RankEntry `json:"rank,omitempty"`
	Share *SharePayload    `json:"share,omitempty"`
}
