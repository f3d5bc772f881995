// Package browser drives one visible Chrome window per identity through the
// Chrome DevTools Protocol. It implements harvest.Session together with the
// probe and skip-gesture collaborators used by the worker.
package browser

import (
	"errors"
	"math/rand/v2"
	"reflect"
	"strings"
	"time"
)

// DefaultUserAgents is the pool a browser picks its user agent from.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
}

// Selectors locates page elements. Every field is a CSS selector unless noted.
type Selectors struct {
	LoginUser     string `mapstructure:"login_user"`
	LoginPassword string `mapstructure:"login_password"`

	RecordBody       string `mapstructure:"record_body"`
	NextButton       string `mapstructure:"next_button"`
	RecordID         string `mapstructure:"record_id"`
	RecordIDFallback string `mapstructure:"record_id_fallback"`

	Subject string `mapstructure:"subject"`
	Topic   string `mapstructure:"topic"`
	// TopicLabel is a literal prefix stripped from the topic text.
	TopicLabel string `mapstructure:"topic_label"`
	Contest    string `mapstructure:"contest"`

	Options       string `mapstructure:"options"`
	OptionLetter  string `mapstructure:"option_letter"`
	OptionText    string `mapstructure:"option_text"`
	AnswerKey     string `mapstructure:"answer_key"`
	CorrectOption string `mapstructure:"correct_option"`

	Comment              string `mapstructure:"comment"`
	Details              string `mapstructure:"details"`
	DetailItem           string `mapstructure:"detail_item"`
	DetailItemMultiClass string `mapstructure:"detail_item_multi_class"`
	DetailTitle          string `mapstructure:"detail_title"`
	DetailValue          string `mapstructure:"detail_value"`
	DetailCompositeValue string `mapstructure:"detail_composite_value"`

	Challenge []string `mapstructure:"challenge"`
	Overlays  []string `mapstructure:"overlays"`
	// OverlayGlobal names a page-level dialog library whose methods are
	// replaced with no-ops.
	OverlayGlobal string `mapstructure:"overlay_global"`
}

// DefaultSelectors matches the question listing the harvester was built for.
func DefaultSelectors() Selectors {
	return Selectors{
		LoginUser:            "#email",
		LoginPassword:        "#senha",
		RecordBody:           "div.questao-enunciado-texto",
		NextButton:           "button.questao-navegacao-botao-proxima",
		RecordID:             "a.id-questao",
		RecordIDFallback:     "div.questao-enunciado-concurso a[target='_blank']",
		Subject:              "div.questao-cabecalho-informacoes-materia a",
		Topic:                "div.questao-cabecalho-informacoes-assunto",
		TopicLabel:           "Assunto:",
		Contest:              "div.questao-enunciado-concurso",
		Options:              "ul.questao-enunciado-alternativas li",
		OptionLetter:         "span.questao-enunciado-alternativa-opcao label",
		OptionText:           "div.questao-enunciado-alternativa-texto",
		AnswerKey:            "div.questao-enunciado-resolucao-errou strong",
		CorrectOption:        "li.questao-enunciado-alternativa-correta",
		Comment:              "div.questao-complementos-comentario-conteudo-texto",
		Details:              "div.detalhes-questao",
		DetailItem:           "div.item-detalhe",
		DetailItemMultiClass: "item-detalhe-multiplo",
		DetailTitle:          "div.detalhe-titulo",
		DetailValue:          "div.ng-binding",
		DetailCompositeValue: "div.detalhe-concurso-composto",
		Challenge: []string{
			"iframe[src*='recaptcha']",
			"iframe[src*='captcha']",
			".g-recaptcha",
			"#captcha",
		},
		Overlays:      []string{".alertify", ".ajs-modal", ".ajs-dialog"},
		OverlayGlobal: "alertify",
	}
}

// WithDefaults fills every empty selector from DefaultSelectors, so a
// config file only needs to list the selectors it overrides.
func (s Selectors) WithDefaults() Selectors {
	def := reflect.ValueOf(DefaultSelectors())
	out := reflect.ValueOf(&s).Elem()
	for i := 0; i < out.NumField(); i++ {
		if out.Field(i).IsZero() {
			out.Field(i).Set(def.Field(i))
		}
	}
	return s
}

// Config controls one browser session.
type Config struct {
	Headless    bool
	ExecPath    string
	UserAgents  []string
	BaseURL     string
	LoginPath   string
	ListingPath string
	// NavTimeout bounds page navigations.
	NavTimeout time.Duration
	// WaitTimeout bounds waits for elements after clicks and shortcuts.
	WaitTimeout time.Duration
	// DetailsTimeout bounds the wait for the details panel.
	DetailsTimeout time.Duration
	Selectors      Selectors
}

func (c Config) withDefaults() Config {
	if len(c.UserAgents) == 0 {
		c.UserAgents = DefaultUserAgents
	}
	if c.LoginPath == "" {
		c.LoginPath = "/login"
	}
	if c.ListingPath == "" {
		c.ListingPath = "/questoes/filtrar"
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = 45 * time.Second
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = 4 * time.Second
	}
	if c.DetailsTimeout <= 0 {
		c.DetailsTimeout = 4 * time.Second
	}
	c.Selectors = c.Selectors.WithDefaults()
	return c
}

func (c Config) validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("base url is required")
	}
	if c.Selectors.NextButton == "" || c.Selectors.RecordID == "" {
		return errors.New("next button and record id selectors are required")
	}
	return nil
}

func (c Config) url(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// pickUserAgent chooses one entry of agents using pick for the index.
func pickUserAgent(agents []string, pick func(n int) int) string {
	if len(agents) == 0 {
		return ""
	}
	if pick == nil {
		pick = rand.IntN
	}
	return agents[pick(len(agents))]
}
