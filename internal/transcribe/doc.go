// Package transcribe turns staged audio into text through OpenAI-compatible
// speech-to-text endpoints.
//
// Client speaks the multipart /audio/transcriptions protocol shared by Groq
// and OpenAI. Chain walks the configured providers in a fixed order, giving
// each a bounded number of attempts with a fixed delay before moving on, and
// reports every attempt to an optional observer so callers can audit it.
package transcribe
