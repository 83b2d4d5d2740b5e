package poem

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Analyzer describes a photo.
type Analyzer interface {
	Analyze(ctx context.Context, jpeg []byte) (Analysis, error)
}

// Poet writes a poem about an analysis.
type Poet interface {
	Generate(ctx context.Context, a Analysis) (string, error)
}

const analysisPrompt = `You are the eyes of a blind poet. Look at the picture and answer with strict JSON only:
{"description": "the scene, any hand gesture and the mood, in 4-6 sentences", "story": "a short story that might lie behind the picture, 50-100 words", "items": ["item 1", "item 2"]}
Use exactly the keys description, story and items. items must be a list of strings. Do not add any other text.`

// VisionAnalyzer asks a vision chat model to describe the photo.
type VisionAnalyzer struct {
	Client    *ChatClient
	MaxTokens int
}

// NewVisionAnalyzer creates an analyzer on top of client.
func NewVisionAnalyzer(client *ChatClient) *VisionAnalyzer {
	return &VisionAnalyzer{Client: client, MaxTokens: 300}
}

// Analyze implements Analyzer.
func (v *VisionAnalyzer) Analyze(ctx context.Context, jpeg []byte) (Analysis, error) {
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg)

	reply, err := v.Client.Complete(ctx, []chatMessage{{
		Role: "user",
		Content: []contentPart{
			{Type: "text", Text: analysisPrompt},
			{Type: "image_url", ImageURL: &imageURL{URL: dataURL, Detail: "low"}},
		},
	}}, v.MaxTokens)
	if err != nil {
		return Analysis{}, err
	}
	return ParseAnalysis(reply)
}

const poetSystemPrompt = `You are a blind poet. An assistant describes what they see as JSON with description, story and items, and you write a poem from it. ` +
	`Give the poem a title and keep it between 5 and 10 lines. It will be printed on a 58 mm receipt and given to someone as a keepsake.`

// ChatPoet asks a chat model for a poem.
type ChatPoet struct {
	Client    *ChatClient
	MaxTokens int
}

// NewChatPoet creates a poet on top of client.
func NewChatPoet(client *ChatClient) *ChatPoet {
	return &ChatPoet{Client: client, MaxTokens: 200}
}

// Generate implements Poet.
func (p *ChatPoet) Generate(ctx context.Context, a Analysis) (string, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("marshal analysis: %w", err)
	}

	prompt := "Write a free-verse poem that captures the feeling of this photo analysis:\n" +
		string(payload) + "\nReply with the poem text only."

	return p.Client.Complete(ctx, []chatMessage{
		{Role: "system", Content: poetSystemPrompt},
		{Role: "user", Content: prompt},
	}, p.MaxTokens)
}
