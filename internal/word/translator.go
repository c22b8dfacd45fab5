package word

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Translator возвращает перевод секретного слова
type Translator interface {
	Translate(ctx context.Context, word string) (string, error)
}

// NopTranslator ничего не переводит
type NopTranslator struct{}

func (NopTranslator) Translate(context.Context, string) (string, error) { return "", nil }

// MyMemoryTranslator обращается к публичному API MyMemory
type MyMemoryTranslator struct {
	Endpoint string
	LangPair string
	Client   *http.Client
}

// NewMyMemoryTranslator создаёт переводчик с таймаутом запроса
func NewMyMemoryTranslator(endpoint, langPair string) *MyMemoryTranslator {
	return &MyMemoryTranslator{
		Endpoint: endpoint,
		LangPair: langPair,
		Client:   &http.Client{Timeout: 5 * time.Second},
	}
}

type myMemoryResponse struct {
	ResponseData struct {
		TranslatedText string `json:"translatedText"`
	} `json:"responseData"`
	ResponseStatus int `json:"responseStatus"`
}

// Translate выполняет GET <endpoint>?q=<word>&langpair=<pair>
func (t *MyMemoryTranslator) Translate(ctx context.Context, word string) (string, error) {
	q := url.Values{}
	q.Set("q", word)
	q.Set("langpair", t.LangPair)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.Endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}

	resp, err := t.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("translate %s: %w", word, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("translate %s: status %d", word, resp.StatusCode)
	}

	var body myMemoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("translate %s: decode: %w", word, err)
	}
	if body.ResponseStatus != 0 && body.ResponseStatus != http.StatusOK {
		return "", fmt.Errorf("translate %s: api status %d", word, body.ResponseStatus)
	}
	return body.ResponseData.TranslatedText, nil
}
