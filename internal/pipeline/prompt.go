package pipeline

import "scenecast/internal/providers/scene"

// DefaultActionPrompt animates the composed scene when the caller gives no
// action prompt of their own.
func DefaultActionPrompt(scenario string) string {
	return "The two people in this scene come to life: " + scene.NormalizeText(scenario) + ". " +
		"They talk to each other naturally with accurate lip sync, take turns speaking and react to what the other says. " +
		"Use natural body language: eye contact, small nods, relaxed hand gestures and shifts in posture. " +
		"Keep both faces identical to the image, the camera steady and the lighting unchanged."
}
