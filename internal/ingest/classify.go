package ingest

// Unrecognized describes an event whose category pair is not in the table.
const Unrecognized = "Unrecognized Event"

// FaceRecognized is the only classification forwarded to webhooks.
const FaceRecognized = "Face Recognized"

type category struct{ major, minor int }

var descriptions = map[category]string{
	// Successful authentication.
	{5, 75}: FaceRecognized,
	{5, 1}:  "Legal Card Pass",
	{5, 17}: "Card and Face Authentication Pass",
	{5, 23}: "Fingerprint Pass",
	{5, 25}: "Fingerprint and Face Authentication Pass",
	{5, 26}: "Fingerprint and Card Authentication Pass",
	{5, 28}: "Fingerprint, Card, and Face Authentication Pass",
	{5, 33}: "Employee No and Fingerprint Authentication Pass",
	{5, 34}: "Employee No and Face Authentication Pass",
	{5, 35}: "Employee No and Card Authentication Pass",
	{5, 53}: "Multi-Factor Authentication Pass",

	// Failed authentication.
	{5, 80}: "Face Recognition Failed",
	{5, 76}: "Stranger Face Recognition Failed",
	{5, 2}:  "Card Invalid Time Period",
	{5, 3}:  "Card No Right",
	{5, 4}:  "Anti-Passback Fail",
	{5, 5}:  "Card Not Found",
	{5, 18}: "Card and Face Authentication Failed",
	{5, 24}: "Fingerprint Authentication Failed",
	{5, 43}: "Card Not Registered",

	// Calls and duress.
	{5, 48}: "Duress Alarm",
	{5, 12}: "Call Center",

	// Door state.
	{5, 37}: "Door Opened",
	{5, 38}: "Door Closed",
	{5, 39}: "Door Exception (Opened Under Duress)",
	{5, 40}: "Door Button Pressed to Open",
	{5, 41}: "Door Open Timeout",

	// Alarms.
	{1, 1}:  "Door Contact Tamper Alarm",
	{1, 7}:  "Device Tamper Alarm",
	{1, 10}: "Door Not Closed",
}

// Classification is the outcome of looking up a terminal category pair.
type Classification struct {
	Description string
	Eligible    bool
}

// Classify maps a (major, minor) category pair to its description. Only a
// successful face match is eligible for delivery.
func Classify(major, minor int) Classification {
	desc, ok := descriptions[category{major, minor}]
	if !ok {
		return Classification{Description: Unrecognized}
	}
	return Classification{Description: desc, Eligible: desc == FaceRecognized}
}
