package word

import (
	"bufio"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
)

// Length фиксированная длина секретного слова
const Length = 10

// ErrEmptyDictionary словарь не содержит слов нужной длины
var ErrEmptyDictionary = errors.New("dictionary has no words of the required length")

// Dictionary хранит допустимые слова и выдаёт случайное секретное слово
type Dictionary struct {
	mu    sync.RWMutex
	words []string
	index map[string]struct{}
	rnd   *rand.Rand
	rndMu sync.Mutex
}

// NewDictionary строит словарь из списка слов. Слова другой длины отбрасываются.
func NewDictionary(words []string) (*Dictionary, error) {
	d := &Dictionary{
		index: make(map[string]struct{}, len(words)),
		rnd:   rand.New(rand.NewSource(rand.Int63())),
	}
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if len(w) != Length {
			continue
		}
		if _, dup := d.index[w]; dup {
			continue
		}
		d.index[w] = struct{}{}
		d.words = append(d.words, w)
	}
	if len(d.words) == 0 {
		return nil, ErrEmptyDictionary
	}
	return d, nil
}

// LoadDictionary читает словарь из файла (одно слово на строку)
func LoadDictionary(path string) (*Dictionary, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dictionary %s: %w", path, err)
	}
	defer file.Close()

	var words []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if w := strings.TrimSpace(scanner.Text()); w != "" {
			words = append(words, w)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read dictionary %s: %w", path, err)
	}
	return NewDictionary(words)
}

// Contains проверяет наличие слова (без учёта регистра)
func (d *Dictionary) Contains(word string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.index[strings.ToLower(word)]
	return ok
}

// Size количество слов
func (d *Dictionary) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.words)
}

// RandomExcept возвращает случайное слово, отличное от previous.
// Если в словаре одно слово, возвращается оно же.
func (d *Dictionary) RandomExcept(previous string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if len(d.words) == 1 {
		return d.words[0]
	}

	d.rndMu.Lock()
	defer d.rndMu.Unlock()
	for {
		w := d.words[d.rnd.Intn(len(d.words))]
		if w != previous {
			return w
		}
	}
}
