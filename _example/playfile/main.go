// Command playfile joins a voice channel and plays one audio file through it.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/bwmarrin/discordgo"

	"github.com/solunet/waveform/bridge"
	"github.com/solunet/waveform/discord"
)

func main() {
	var (
		guild   = flag.Uint64("guild", 0, "guild ID")
		channel = flag.Uint64("channel", 0, "voice channel ID")
		file    = flag.String("file", "", "audio file to play")
	)
	flag.Parse()

	token := os.Getenv("BOT_TOKEN")
	if token == "" || *guild == 0 || *channel == 0 || *file == "" {
		log.Fatalln("Usage: BOT_TOKEN=... playfile -guild ... -channel ... -file ...")
	}

	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		log.Fatalln("Failed to create session:", err)
	}

	if err := dg.Open(); err != nil {
		log.Fatalln("Failed to open session:", err)
	}
	defer dg.Close()

	client, err := bridge.New(dg)
	if err != nil {
		log.Fatalln("Failed to create voice client:", err)
	}
	defer client.Close()

	ctx := context.Background()

	guildID := discord.GuildID(*guild)

	if err := client.Connect(ctx, guildID, discord.ChannelID(*channel), false, true); err != nil {
		log.Fatalln("Failed to connect:", err)
	}

	if err := client.PlayFile(ctx, guildID, *file); err != nil {
		log.Fatalln("Failed to play:", err)
	}

	if err := client.Disconnect(ctx, guildID); err != nil {
		log.Fatalln("Failed to disconnect:", err)
	}
}
