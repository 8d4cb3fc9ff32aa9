package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/MrWong99/omnillm/internal/agent"
	"github.com/MrWong99/omnillm/internal/usage"
	"github.com/MrWong99/omnillm/pkg/provider/llm"
)

// decode reads a JSON body into v, rejecting unknown fields and trailing
// data.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid JSON body: " + err.Error())
	}
	if dec.More() {
		return badRequest("invalid JSON body: trailing data")
	}
	return nil
}

func (c CompletionRequest) validate() error {
	if c.Prompt == "" {
		return badRequest("prompt must not be empty")
	}
	return nil
}

func (s *Server) handleCompletion(w http.ResponseWriter, r *http.Request) {
	var req CompletionRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.rt.Provider(req.Provider)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := p.GenerateCompletion(r.Context(), req.Prompt, req.System, s.rt.ApplyDefaults(req.Options.generation()))
	if err == nil && resp == nil {
		err = llm.UnknownError(errors.New("provider returned no response"))
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, completionFrom(p.ID(), resp))
}

func (s *Server) handleStructured(w http.ResponseWriter, r *http.Request) {
	var req StructuredRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.Schema) == 0 || !json.Valid(req.Schema) {
		writeError(w, r, badRequest("schema must be a JSON document"))
		return
	}
	p, err := s.rt.Provider(req.Provider)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out, err := p.GenerateStructuredOutput(r.Context(), req.Prompt, req.System, req.Schema, s.rt.ApplyDefaults(req.Options.generation()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StructuredResponse{Provider: p.ID(), Output: out})
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	var req AgentRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, r, err)
		return
	}
	tools, err := s.selectTools(req.Tools)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.rt.Provider(req.Provider)
	if err != nil {
		writeError(w, r, err)
		return
	}
	runner, err := s.rt.Runner(req.Provider, agent.Config{
		Options:   s.rt.ApplyDefaults(req.Options.generation()),
		MaxRounds: req.MaxRounds,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, _, err := runner.RunPrompt(r.Context(), req.Prompt, req.System, tools, parseChoice(req.ToolChoice))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := AgentResponse{
		CompletionResponse: completionFrom(p.ID(), res.Response),
		Rounds:             res.Rounds,
		ToolCallsExecuted:  res.ToolCalls,
	}
	out.Usage = Usage{InputTokens: res.Usage.InputTokens, OutputTokens: res.Usage.OutputTokens}
	writeJSON(w, http.StatusOK, out)
}

// selectTools returns the host tools named in names, or all of them when
// names is empty.
func (s *Server) selectTools(names []string) ([]llm.Tool, error) {
	all := s.rt.Tools().Tools()
	if len(names) == 0 {
		return all, nil
	}
	out := make([]llm.Tool, 0, len(names))
	for _, name := range names {
		i := slices.IndexFunc(all, func(t llm.Tool) bool { return t.Name() == name })
		if i < 0 {
			return nil, badRequest(fmt.Sprintf("unknown tool %q", name))
		}
		out = append(out, all[i])
	}
	return out, nil
}

func parseChoice(s string) llm.ToolChoice {
	switch s {
	case "", string(llm.ToolChoiceAuto):
		return llm.ChooseAuto()
	case string(llm.ToolChoiceNone):
		return llm.ChooseNone()
	case string(llm.ToolChoiceRequired):
		return llm.ChooseRequired()
	default:
		return llm.ChooseTool(s)
	}
}

func (s *Server) handleProviders(w http.ResponseWriter, _ *http.Request) {
	states := s.rt.CircuitStates()
	infos := s.rt.Providers()
	out := make([]ProviderView, 0, len(infos))
	for _, p := range infos {
		c := p.Capabilities
		out = append(out, ProviderView{
			Name:          p.Name,
			Type:          string(p.Type),
			Model:         p.Model,
			ID:            p.ID,
			DisplayName:   p.DisplayName,
			Default:       p.Default,
			Streaming:     c.SupportsStreaming,
			ToolCalling:   c.SupportsToolCalling,
			Structured:    c.SupportsStructuredOutput,
			Local:         c.IsLocal,
			ContextTokens: c.MaxContextTokens,
			OutputTokens:  c.MaxOutputTokens,
			Circuit:       states[p.Name],
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	host := s.rt.Tools()
	writeJSON(w, http.StatusOK, toolViews(host.Tools(), host.Stats()))
}

// handleUsage accepts provider, since (RFC 3339 or a duration such as 24h)
// and limit query parameters.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	f, err := usageFilter(r, time.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	ledger := s.rt.Ledger()
	sums, err := ledger.Summary(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	recs, err := ledger.Recent(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, usageFrom(sums, recs))
}

func usageFilter(r *http.Request, now time.Time) (usage.Filter, error) {
	q := r.URL.Query()
	f := usage.Filter{Provider: q.Get("provider")}
	if v := q.Get("since"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			f.Since = now.Add(-d)
		} else if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.Since = t
		} else {
			return f, badRequest(fmt.Sprintf("since %q is neither a duration nor RFC 3339", v))
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, badRequest(fmt.Sprintf("limit %q must be a non-negative integer", v))
		}
		f.Limit = n
	}
	return f, nil
}
