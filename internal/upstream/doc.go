// Package upstream talks to the language model.
//
// Client wraps go-openai's streaming chat completion call and turns it into
// an iter.Seq2[string, error]. Each reply is a single-pass sequence:
//
//	for delta, err := range client.Stream(ctx, prompt, history) {
//		if err != nil {
//			// transport failure or timeout; the sequence is over
//		}
//	}
//
// A non-success HTTP status is not an error at this level. It becomes one
// synthetic delta describing the status so the conversation shows what went
// wrong.
package upstream
