package intent

import (
	"context"
	"fmt"
	"strings"

	"github.com/memohai/guardrelay/internal/chat"
)

const probeAnswerImage = "IMAGE"

const probeInstruction = `You classify chat messages. Decide whether the user is asking for a new image to be created (drawn, painted, rendered, generated).
Reply with exactly one word: IMAGE if they want an image created, TEXT for anything else.

Message: draw a cat
Answer: IMAGE
Message: can you generate a picture of a sunset over the sea?
Answer: IMAGE
Message: make me a logo for my bakery
Answer: IMAGE
Message: what is the capital of France?
Answer: TEXT
Message: write a poem about a cat
Answer: TEXT
Message: describe how image generation models work
Answer: TEXT`

var probeTemperature float32

// probe asks the text model whether prompt requests image synthesis. Any failure is
// returned wrapped in ErrClassification with a false answer.
func (r *Router) probe(ctx context.Context, prompt string) (bool, error) {
	if strings.TrimSpace(prompt) == "" {
		return false, nil
	}
	temp := probeTemperature
	res, err := r.call(ctx, r.opts.ProbeTimeout, chat.Request{
		Model:       r.opts.TextModel,
		System:      probeInstruction,
		Turns:       []chat.Turn{chat.TextTurn(chat.RoleUser, "Message: "+prompt+"\nAnswer:")},
		Temperature: &temp,
	})
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrClassification, err)
	}
	return normalizeAnswer(res.Text()) == probeAnswerImage, nil
}
