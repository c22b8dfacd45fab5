package game

// MaxAttempts максимальное число попыток в раунде
const MaxAttempts = 12

// Status результат сравнения одной буквы
type Status string

const (
	StatusExact   Status = "exact"
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
)

// LetterHint подсказка по одной букве попытки
type LetterHint struct {
	Letter string `json:"letter"`
	Status Status `json:"status"`
}

// Guess подсказки по всем буквам одной попытки
type Guess []LetterHint

// Feedback сравнивает попытку с секретным словом побуквенно.
// exact - та же буква на той же позиции, present - буква есть в слове
// на другой позиции, absent - буквы нет. Слова должны быть одной длины.
func Feedback(secret, guess string) Guess {
	hints := make(Guess, len(guess))
	for i := 0; i < len(guess); i++ {
		c := guess[i]
		status := StatusAbsent
		switch {
		case i < len(secret) && secret[i] == c:
			status = StatusExact
		case containsByte(secret, c):
			status = StatusPresent
		}
		hints[i] = LetterHint{Letter: string(c), Status: status}
	}
	return hints
}

func containsByte(s string, c byte) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return true
		}
	}
	return false
}

// Round одна партия пользователя против одного секретного слова
type Round struct {
	Word        string  `json:"word"`
	RoundNumber int     `json:"roundNumber"`
	Attempts    int     `json:"attempts"`
	Won         bool    `json:"won"`
	Finished    bool    `json:"finished"`
	Abandoned   bool    `json:"abandoned,omitempty"`
	Guesses     []Guess `json:"guesses"`
}

// Matches сообщает, играется ли раунд против указанного слова
func (r *Round) Matches(word string, roundNumber int) bool {
	return r.Word == word && r.RoundNumber == roundNumber
}

// Remaining оставшиеся попытки
func (r *Round) Remaining() int {
	return MaxAttempts - r.Attempts
}

func (r *Round) clone() *Round {
	c := *r
	c.Guesses = make([]Guess, len(r.Guesses))
	for i, g := range r.Guesses {
		c.Guesses[i] = append(Guess(nil), g...)
	}
	return &c
}
