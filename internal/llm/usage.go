package llm

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Usage is the token accounting of one or more completion calls.
type Usage struct {
	Calls        int64 `json:"calls"`
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int64 { return u.InputTokens + u.OutputTokens }

// Cost estimates the price of u in USD.
func (u Usage) Cost(p Pricing) float64 {
	return float64(u.InputTokens)/1e6*p.InputPerMillion + float64(u.OutputTokens)/1e6*p.OutputPerMillion
}

// ReportUsage hands the token counts of a finished call to the meter the
// request passed through, if any.
func (r Request) ReportUsage(input, output int64) {
	if r.usage != nil {
		r.usage(Usage{Calls: 1, InputTokens: input, OutputTokens: output})
	}
}

// Pricing is USD per million tokens.
type Pricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

var pricing = map[string]Pricing{
	"gemini-1.5-flash-8b": {0.0375, 0.15},
	"gemini-1.5-flash":    {0.075, 0.30},
	"gemini-1.5-pro":      {1.25, 5.00},
	"gemini-2.0-flash":    {0.10, 0.40},
	"gemini-2.5-flash":    {0.30, 2.50},
	"gemini-2.5-pro":      {1.25, 10.0},
	"claude-sonnet-4":     {3.0, 15.0},
	"claude-haiku":        {0.80, 4.00},
	"claude-opus-4":       {15.0, 75.0},
	"gpt-4o-mini":         {0.15, 0.60},
	"gpt-4o":              {2.5, 10.0},
	"gpt-4-turbo":         {10.0, 30.0},
}

// DefaultPricing is used for models without a known price.
var DefaultPricing = Pricing{InputPerMillion: 2.0, OutputPerMillion: 8.0}

// PricingFor returns the price of the model in a provider name such as
// "anthropic:claude-sonnet-4-6". Local models are free; unknown models get
// DefaultPricing. The longest contained model name wins.
func PricingFor(name string) Pricing {
	name = strings.ToLower(name)
	if strings.HasPrefix(name, ProviderOllama+":") {
		return Pricing{}
	}
	if i := strings.IndexByte(name, ':'); i >= 0 {
		name = name[i+1:]
	}
	if p, ok := pricing[name]; ok {
		return p
	}
	keys := make([]string, 0, len(pricing))
	for k := range pricing {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	for _, k := range keys {
		if strings.Contains(name, k) {
			return pricing[k]
		}
	}
	return DefaultPricing
}

// Meter accumulates the usage of every call made through Metered providers.
// It is safe for concurrent use.
type Meter struct {
	mu    sync.Mutex
	model string
	usage Usage
	hooks []func(Usage)
}

// NewMeter returns an empty meter pricing calls as model.
func NewMeter(model string) *Meter {
	return &Meter{model: model}
}

// Model returns the provider name the meter prices by.
func (m *Meter) Model() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.model
}

// OnRecord registers fn to observe every recorded call.
func (m *Meter) OnRecord(fn func(Usage)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, fn)
}

// Record adds u to the totals.
func (m *Meter) Record(u Usage) {
	m.mu.Lock()
	m.usage.Calls += u.Calls
	m.usage.InputTokens += u.InputTokens
	m.usage.OutputTokens += u.OutputTokens
	hooks := m.hooks
	m.mu.Unlock()

	for _, fn := range hooks {
		fn(u)
	}
}

// Usage returns the totals so far.
func (m *Meter) Usage() Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage
}

// Cost estimates the spend so far in USD.
func (m *Meter) Cost() float64 {
	return m.Usage().Cost(PricingFor(m.Model()))
}

type metered struct {
	Provider
	meter *Meter
}

// Metered records the usage of every successful call to p in m. Calls whose
// provider reports no token counts are still counted.
func Metered(p Provider, m *Meter) Provider {
	return &metered{Provider: p, meter: m}
}

func (m *metered) Complete(ctx context.Context, req Request) (string, error) {
	reported := false
	req.usage = func(u Usage) {
		reported = true
		m.meter.Record(u)
	}
	text, err := m.Provider.Complete(ctx, req)
	if err == nil && !reported {
		m.meter.Record(Usage{Calls: 1})
	}
	return text, err
}
