package providers

// TokenCounter counts model tokens in a piece of text
type TokenCounter interface {
	Count(text string) int
}
