// Command clientkey prints a subscriber's record and share links, for handing
// out access without going through the HTTP API.
package main

import (
	"flag"
	"fmt"
	stlog "log"

	"vpn-panel/panel/db"
	"vpn-panel/subscription"
	"vpn-panel/utils"
)

func init() {
	utils.LoadEnv()
	db.Connect()
	db.Sync()
}

func main() {
	telegramID := flag.Int64("telegram-id", 0, "look up by telegram id")
	name := flag.String("name", "", "look up by name")
	flag.Parse()

	client, err := lookup(flag.Arg(0), *telegramID, *name)
	if err != nil {
		stlog.Fatalln(err)
	}

	fmt.Printf("Name:         %s\n", client.Name)
	fmt.Printf("UUID:         %s\n", client.UUID)
	fmt.Printf("Status:       %s\n", client.Status)
	fmt.Printf("Subscription: %s to %s\n",
		client.SubscriptionStart.Format("2006-01-02"),
		client.SubscriptionEnd.Format("2006-01-02"))
	fmt.Printf("Traffic:      %d / %d bytes\n", client.TrafficUsedBytes, client.TrafficLimitBytes)
	fmt.Println()

	bundle := subscription.Generate(subscription.ParamsFromEnv(client.UUID, client.Name))
	for _, link := range bundle.Links() {
		fmt.Println(link)
	}
}

func lookup(uuid string, telegramID int64, name string) (*db.Client, error) {
	var client db.Client

	switch {
	case uuid != "":
		if err := db.DB.Where("uuid = ?", uuid).First(&client).Error; err != nil {
			return nil, fmt.Errorf("no client with uuid %s", uuid)
		}
	case telegramID != 0:
		if err := db.DB.Where("telegram_id = ?", telegramID).First(&client).Error; err != nil {
			return nil, fmt.Errorf("no client with telegram id %d", telegramID)
		}
	case name != "":
		if err := db.DB.Where("name = ?", name).First(&client).Error; err != nil {
			return nil, fmt.Errorf("no client named %q", name)
		}
	default:
		return nil, fmt.Errorf("usage: clientkey <uuid> | --telegram-id N | --name NAME")
	}
	return &client, nil
}
