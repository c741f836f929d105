package relay

// Fixed texts sent when no AI reply can be produced.
const (
	notConfiguredText = "Thanks for your message. This address has not been set up to reply yet, " +
		"so no answer was generated. Please contact the address owner."
	failureText = "Sorry, something went wrong while preparing a reply to your message. " +
		"Nothing further will be sent for this message. Please try again later."
)
