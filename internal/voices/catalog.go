package voices

import "github.com/bobarin/storyreel/internal/models"

// CatalogEntry tags one synthesizer voice with the speaker profile it suits.
// It is the models-level type so job options can carry a per-job catalog.
type CatalogEntry = models.VoiceCatalogEntry

// DefaultCatalog is the static voice table. Entries span
// {male,female} x {child,youth,adult,elder,unknown}; ids are ElevenLabs
// voice identifiers.
var DefaultCatalog = []CatalogEntry{
	// Male
	{VoiceID: "jBpfuIE2acCO8z3wKNLl", Gender: models.GenderMale, AgeStage: models.AgeStageChild},
	{VoiceID: "pqHfZKP75CvOlQylNhV4", Gender: models.GenderMale, AgeStage: models.AgeStageChild},
	{VoiceID: "TxGEqnHWrfWFTfGW9XjX", Gender: models.GenderMale, AgeStage: models.AgeStageYouth},
	{VoiceID: "yoZ06aMxZJJ28mfd3POQ", Gender: models.GenderMale, AgeStage: models.AgeStageYouth},
	{VoiceID: "ZQe5CZNOzWyzPSCn5a3c", Gender: models.GenderMale, AgeStage: models.AgeStageYouth},
	{VoiceID: "pNInz6obpgDQGcFmaJgB", Gender: models.GenderMale, AgeStage: models.AgeStageAdult},
	{VoiceID: "VR6AewLTigWG4xSOukaG", Gender: models.GenderMale, AgeStage: models.AgeStageAdult},
	{VoiceID: "ErXwobaYiN019PkySvjV", Gender: models.GenderMale, AgeStage: models.AgeStageAdult},
	{VoiceID: "2EiwWnXFnvU5JabPnv8n", Gender: models.GenderMale, AgeStage: models.AgeStageAdult},
	{VoiceID: "JBFqnCBsd6RMkjVDRZzb", Gender: models.GenderMale, AgeStage: models.AgeStageElder},
	{VoiceID: "onwK4e9ZLuTAKqWW03F9", Gender: models.GenderMale, AgeStage: models.AgeStageElder},
	{VoiceID: "N2lVS1w4EtoT3dr4eOWO", Gender: models.GenderMale, AgeStage: models.AgeStageElder},
	{VoiceID: "TX3LPaxmHKxFdv7VOQHJ", Gender: models.GenderMale, AgeStage: models.AgeStageUnknown},
	{VoiceID: "IKne3meq5aSn9XLyUdCD", Gender: models.GenderMale, AgeStage: models.AgeStageUnknown},

	// Female
	{VoiceID: "pFZP5JQG7iQjIQuC4Bku", Gender: models.GenderFemale, AgeStage: models.AgeStageChild},
	{VoiceID: "jsCqWAovK2LkecY7zXl4", Gender: models.GenderFemale, AgeStage: models.AgeStageChild},
	{VoiceID: "21m00Tcm4TlvDq8ikWAM", Gender: models.GenderFemale, AgeStage: models.AgeStageYouth},
	{VoiceID: "AZnzlk1XvdvUeBnXmlld", Gender: models.GenderFemale, AgeStage: models.AgeStageYouth},
	{VoiceID: "MF3mGyEYCl7XYWbV9V6O", Gender: models.GenderFemale, AgeStage: models.AgeStageYouth},
	{VoiceID: "EXAVITQu4vr4xnSDxMaL", Gender: models.GenderFemale, AgeStage: models.AgeStageAdult},
	{VoiceID: "ThT5KcBeYPX3keUQqHPh", Gender: models.GenderFemale, AgeStage: models.AgeStageAdult},
	{VoiceID: "XB0fDUnXU5powFXDhCwa", Gender: models.GenderFemale, AgeStage: models.AgeStageAdult},
	{VoiceID: "Xb7hH8MSUJpSbSDYk0k2", Gender: models.GenderFemale, AgeStage: models.AgeStageAdult},
	{VoiceID: "oWAxZDx7w5VEj9dCyTzz", Gender: models.GenderFemale, AgeStage: models.AgeStageElder},
	{VoiceID: "z9fAnlkpzviPz146aGWa", Gender: models.GenderFemale, AgeStage: models.AgeStageElder},
	{VoiceID: "pMsXgVXv3BLzUgSXRplE", Gender: models.GenderFemale, AgeStage: models.AgeStageUnknown},
	{VoiceID: "LcfcDJNUP1GQjkzn1xUU", Gender: models.GenderFemale, AgeStage: models.AgeStageUnknown},
	{VoiceID: "XrExE9yKIg1WjnnlVkGX", Gender: models.GenderFemale, AgeStage: models.AgeStageUnknown},
}

// Default voice ids used when nothing better is configured.
const (
	DefaultNarratorVoice = "onwK4e9ZLuTAKqWW03F9"
	DefaultFallbackVoice = "pNInz6obpgDQGcFmaJgB"
)
