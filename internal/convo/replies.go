package convo

import (
	"fmt"
	"strconv"
)

const onboardingReply = "Welcome to AgriSync! Please send your WhatsApp location pin 📎 " +
	"so we can register your farm and provide local prices."

const helpReply = "How can I help you? You can ask for:\n" +
	"1. Market Price (e.g., 'Tomato price')\n" +
	"2. Schedule Pickup (e.g., 'Send truck for 300kg onions')"

func registrationReply(district string) string {
	return fmt.Sprintf("Registration successful in %s!\n\n"+
		"I have saved your farm location. How can I help you today?\n"+
		"- Ask for prices (e.g., 'Tomato price')\n"+
		"- Request a truck (e.g., 'I need a truck for 500kg onions')", district)
}

func logisticsReply(weightKg float64, crop string) string {
	return fmt.Sprintf("Request recorded: %skg of %s. Our team will contact you soon.",
		strconv.FormatFloat(weightKg, 'f', -1, 64), crop)
}
