// persona-live - voice conversations with configurable assistants over the
// Gemini Live API.
//
// Usage:
//
//	persona-live serve                      # browser gateway on :8080
//	persona-live talk --persona nova        # talk through the local mic and speaker
package main

func main() {
	Execute()
}
