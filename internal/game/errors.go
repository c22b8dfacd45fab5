package game

import "errors"

// Доменные ошибки хранилища сессий. Диспетчер отображает их в коды ответа.
var (
	ErrUsernameRequired    = errors.New("username required")
	ErrPasswordRequired    = errors.New("password required")
	ErrUsernameAlreadyUsed = errors.New("username already used")
	ErrInvalidUsername     = errors.New("invalid username")
	ErrInvalidCredentials  = errors.New("invalid username or password")
	ErrAlreadyLoggedIn     = errors.New("already logged in")
	ErrAlreadyPlayed       = errors.New("game already played")
	ErrNeedToStartRound    = errors.New("need to start round")
	ErrInvalidWordLength   = errors.New("invalid word length")
	ErrWordNotInDictionary = errors.New("word not in dictionary")
	ErrNoGameToShare       = errors.New("no game to share")
)
