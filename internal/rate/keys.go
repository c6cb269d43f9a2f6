package rate

func loginEmailKey(email string) string {
	return "al:" + email
}

func loginIPKey(ip string) string {
	return "ali:" + ip
}

func refreshKey(sessionID string) string {
	return "ar:" + sessionID
}
