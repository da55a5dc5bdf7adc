package orchestrator

import "github.com/ent0n29/tunesmith/internal/session"

const (
	msgClarify = "Happy to make you something! What style or mood are you after? " +
		"For example: \"chill lofi for studying\" or \"energetic EDM with female vocals\"."
	msgBriefNotUnderstood = "I couldn't turn that into a song idea. Try describing a genre, mood or instrument."

	msgOptionsFmt      = "Here are %[2]d options for %[1]s. Reply with 1, 2 or \"both\", or tell me what to change."
	msgRoundFmt        = "Round %d. "
	msgPersonaUsedFmt  = "Using persona %q. "
	msgMusicFailed     = "Music generation failed after several attempts. Send your request again to retry."
	msgSelectedOneFmt  = "Great, option %s it is."
	msgSelectedManyFmt = "Great, keeping options %s."

	msgNextAfterSelection = "Want a cover? Say \"make a cover\". You can also \"save persona <name>\" to reuse this sound."

	msgNeedSelectionForCover = "Pick a track first (reply 1, 2 or \"both\") and then I'll design the cover."
	msgCoverReady            = "Here's your cover. Say \"yes\" to keep it, describe changes for a new one, or say \"make a video\"."
	msgCoverFailed           = "Cover generation failed after several attempts. Say \"make a cover\" to try again."
	msgCoverApproved         = "Cover saved. Say \"make a video\" when you want the music video."

	msgNeedSelectionForVideo = "Pick a track first, then make a cover, and I'll put the video together."
	msgNeedCoverForVideo     = "I need a cover before making the video. Say \"make a cover\" first."
	msgVideoReady            = "Your video is ready. Say \"yes\" to finish, or ask for a new cover."
	msgVideoFailed           = "Video creation failed after several attempts. Say \"make a video\" to try again."
	msgVideoApproved         = "All done! Send a new description whenever you want another song."

	msgNeedSelectionForPersona = "Select a track first, then I can save its style as a persona."
	msgAskPersonaName          = "What should I call this persona?"
	msgPersonaExistsFmt        = "A persona named %q already exists. Reply \"overwrite\" to replace it or \"cancel\" to keep it."
	msgPersonaInvalidName      = "That name doesn't work. Please use up to 64 characters."
	msgPersonaSavedFmt         = "Saved persona %q. Say \"use persona <name>\" any time to make more like it."
	msgPersonaCancelled        = "Okay, nothing was saved."
	msgPersonaNotFoundFmt      = "I couldn't find a persona named %q. Say \"list personas\" to see what's saved."
	msgPersonaDeletedFmt       = "Deleted persona %q."
	msgPersonaStoreFailed      = "I couldn't reach the persona library right now. Please try again shortly."
	msgNoPersonas              = "No personas saved yet. Select a track and say \"save persona <name>\"."
	msgPersonaListHeader       = "Saved personas:"

	msgReset = "Starting fresh. Describe the song you want."
	msgHelp  = "Describe a song (\"dreamy synthwave about night drives\") and I'll make two options.\n" +
		"Then: reply 1, 2 or both, or describe changes.\n" +
		"\"make a cover\", \"make a video\", \"save persona <name>\", \"use persona <name>\",\n" +
		"\"list personas\", \"delete persona <name>\", \"reset\"."
)

// unrecognizedFor re-prompts with what the current phase expects.
func unrecognizedFor(s *session.Session) string {
	switch s.Phase {
	case session.PhaseAwaitingMusicSelection:
		return "Reply 1, 2 or \"both\" to pick, or tell me what to change."
	case session.PhaseAwaitingCoverDecision:
		return "Say \"yes\" to keep the cover, describe changes, or say \"make a video\"."
	case session.PhaseAwaitingVideoDecision:
		return "Say \"yes\" to finish, or \"make a cover\" for a new cover."
	case session.PhaseAwaitingPersonaName:
		return msgAskPersonaName
	case session.PhaseClarifying:
		return msgClarify
	}
	if len(s.Candidates) > 0 {
		return "Reply 1 or 2 to pick a track, or describe a new song. Say \"help\" for commands."
	}
	return "Describe the song you'd like, for example \"upbeat pop about summer\". Say \"help\" for commands."
}
