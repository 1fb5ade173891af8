package main

import "pqrdesk/internal/app"

func main() {
	app.Main()
}
