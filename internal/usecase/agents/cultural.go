package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"guidebot/internal/domain"
	"guidebot/internal/infra/tracer"
	"guidebot/internal/usecase"
)

const culturalSystemPrompt = `You are a Thai cultural etiquette expert helping tourists
understand local customs, temple etiquette, and respectful behavior. Be warm,
practical, and specific to Thailand.`

// guidanceReply is the structured shape requested from the reasoner on the
// text path.
type guidanceReply struct {
	Guidance         string   `json:"guidance"`
	CulturalContext  string   `json:"cultural_context"`
	Recommendations  []string `json:"recommendations"`
	SensitivityNotes []string `json:"sensitivity_notes"`
	RegionalNotes    string   `json:"regional_notes"`
}

// imageAnalysis is the structured shape requested from the reasoner on the
// image classification pass.
type imageAnalysis struct {
	ContentType      string   `json:"content_type"` // temple | location | cultural_activity | general
	Location         string   `json:"location"`
	DetectedElements []string `json:"detected_elements"`
	Concerns         []string `json:"concerns"`
}

// CulturalAgent answers cultural questions and analyzes photos tourists send.
// It never lets a reasoner failure produce an empty response: every path has a
// textual fallback.
type CulturalAgent struct {
	reasoner domain.Reasoner
	logger   *slog.Logger
}

// NewCulturalAgent creates the cultural agent.
func NewCulturalAgent(reasoner domain.Reasoner, logger *slog.Logger) *CulturalAgent {
	return &CulturalAgent{reasoner: reasoner, logger: logger}
}

func (a *CulturalAgent) Name() domain.AgentName { return domain.AgentCultural }

// Handle implements domain.Agent. An attached image routes to the image
// analysis path; plain text routes to structured guidance.
func (a *CulturalAgent) Handle(ctx context.Context, req domain.AgentRequest) (*domain.AgentResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "CulturalAgent.Handle",
		tracer.StringAttr("user_id", req.UserID))
	defer span.End()

	if len(req.Image) > 0 {
		return a.analyzeImage(ctx, req)
	}
	return a.answerQuestion(ctx, req)
}

func (a *CulturalAgent) answerQuestion(ctx context.Context, req domain.AgentRequest) (*domain.AgentResponse, error) {
	prompt := fmt.Sprintf(`A tourist asks: %q

Respond with a JSON object only:
{
  "guidance": "direct practical answer",
  "cultural_context": "background a visitor should understand",
  "recommendations": ["do this", "do that"],
  "sensitivity_notes": ["avoid this"],
  "regional_notes": "region-specific notes if relevant, else empty"
}`, req.Message)

	raw, err := a.reasoner.Generate(ctx, prompt, culturalSystemPrompt, 800)
	if err != nil {
		a.logger.Warn("cultural guidance generation failed", "error", err)
		return &domain.AgentResponse{Status: "success", Message: fallbackGuidance()}, nil
	}

	var reply guidanceReply
	if err := usecase.ExtractJSON(raw, &reply); err != nil || reply.Guidance == "" {
		// Malformed structure: the raw text is still usable guidance.
		if strings.TrimSpace(raw) != "" {
			return &domain.AgentResponse{Status: "success", Message: strings.TrimSpace(raw)}, nil
		}
		return &domain.AgentResponse{Status: "success", Message: fallbackGuidance()}, nil
	}

	return &domain.AgentResponse{Status: "success", Message: formatGuidance(reply)}, nil
}

func (a *CulturalAgent) analyzeImage(ctx context.Context, req domain.AgentRequest) (*domain.AgentResponse, error) {
	classifyPrompt := `Classify this photo for a tourist in Thailand. Respond with a JSON object only:
{
  "content_type": "temple" | "location" | "cultural_activity" | "general",
  "location": "place or landmark name if recognizable, else empty",
  "detected_elements": ["notable objects or elements"],
  "concerns": ["any cultural appropriateness concerns"]
}`
	if req.ImageQuery != "" {
		classifyPrompt += fmt.Sprintf("\n\nThe tourist also asked: %q", req.ImageQuery)
	}

	raw, err := a.reasoner.GenerateWithImage(ctx, classifyPrompt, req.Image, culturalSystemPrompt, 600)
	if err != nil {
		a.logger.Warn("image analysis failed", "error", err)
		return &domain.AgentResponse{
			Status:  "error",
			Message: "I couldn't analyze that photo right now, but feel free to describe what you're looking at and I'll help with cultural context!",
		}, nil
	}

	var analysis imageAnalysis
	if err := usecase.ExtractJSON(raw, &analysis); err != nil {
		analysis = imageAnalysis{ContentType: "general"}
	}

	guidance, err := a.guidanceForImage(ctx, analysis, req.ImageQuery)
	if err != nil {
		a.logger.Warn("image guidance generation failed", "error", err, "content_type", analysis.ContentType)
		guidance = "That looks like an interesting spot! Would you like me to find a local guide who knows the area?"
	}

	return &domain.AgentResponse{
		Status:     "success",
		Message:    guidance,
		Suggestion: suggestionFromAnalysis(analysis),
	}, nil
}

// guidanceForImage issues the second, narrower reasoner call picked by the
// classified content type.
func (a *CulturalAgent) guidanceForImage(ctx context.Context, analysis imageAnalysis, query string) (string, error) {
	elements := strings.Join(analysis.DetectedElements, ", ")
	concerns := strings.Join(analysis.Concerns, ", ")

	var prompt string
	switch analysis.ContentType {
	case "temple":
		prompt = fmt.Sprintf(`A tourist photographed a Thai temple (detected: %s; concerns: %s).
Explain appropriate behavior and dress for visiting, note anything in the photo that needs
cultural care, and end by offering to find a temple-specialist guide. Keep it friendly and short.`,
			elements, concerns)
	case "location":
		prompt = fmt.Sprintf(`A tourist photographed a location in Thailand (place: %s; detected: %s).
Describe what makes this place worth visiting and what kind of local guide would suit it.
End by offering to search for guides. Keep it friendly and short.`,
			analysis.Location, elements)
	case "cultural_activity":
		prompt = fmt.Sprintf(`A tourist photographed a Thai cultural activity (detected: %s; concerns: %s).
Explain what the activity is, whether it is appropriate for tourists to join, and any etiquette.
End by offering to find a guide who can arrange it. Keep it friendly and short.`,
			elements, concerns)
	default:
		prompt = fmt.Sprintf(`A tourist sent a photo from Thailand (detected: %s).
Comment warmly on it and offer help planning related activities with a local guide. Keep it short.`,
			elements)
	}
	if query != "" {
		prompt += fmt.Sprintf("\nTheir question: %q", query)
	}

	return a.reasoner.Generate(ctx, prompt, culturalSystemPrompt, 500)
}

// suggestionFromAnalysis derives guide-search hints for the follow-up turn.
func suggestionFromAnalysis(analysis imageAnalysis) *domain.ImageSuggestion {
	var interests []string
	switch analysis.ContentType {
	case "temple":
		interests = []string{"temples", "culture"}
	case "cultural_activity":
		interests = []string{"culture", "local experiences"}
	case "location":
		interests = []string{"sightseeing"}
	}
	if len(interests) == 0 && analysis.Location == "" {
		return nil
	}
	return &domain.ImageSuggestion{Location: analysis.Location, Interests: interests}
}

func formatGuidance(reply guidanceReply) string {
	var b strings.Builder
	b.WriteString(reply.Guidance)
	if reply.CulturalContext != "" {
		b.WriteString("\n\n📚 *Cultural Context:*\n")
		b.WriteString(reply.CulturalContext)
	}
	if len(reply.Recommendations) > 0 {
		b.WriteString("\n\n✅ *Do's:*\n")
		for _, r := range reply.Recommendations {
			b.WriteString("• " + r + "\n")
		}
	}
	if len(reply.SensitivityNotes) > 0 {
		b.WriteString("\n❌ *Don'ts:*\n")
		for _, n := range reply.SensitivityNotes {
			b.WriteString("• " + n + "\n")
		}
	}
	if reply.RegionalNotes != "" {
		b.WriteString("\n📍 *Regional Notes:*\n")
		b.WriteString(reply.RegionalNotes)
	}
	b.WriteString("\n\n🙏 Following these guidelines will help you show respect for Thai culture!")
	return b.String()
}

func fallbackGuidance() string {
	return `Here are the essentials for visiting Thailand respectfully:

✅ *Do's:*
• Dress modestly at temples (cover shoulders and knees)
• Remove shoes before entering temples and homes
• Greet with a wai (palms together, slight bow)
• Stay calm and polite, even when frustrated

❌ *Don'ts:*
• Never touch anyone's head
• Don't point your feet at people or Buddha images
• Avoid public displays of anger
• Never disrespect the monarchy

🙏 Following these guidelines will help you show respect for Thai culture!`
}
