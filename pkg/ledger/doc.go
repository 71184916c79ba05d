// Package ledger is the Redis-backed operator view of the warden's review registry.
//
// # Overview
//
// The bot keeps its registry in memory and rebuilds it from the chat platform on every
// start. The ledger mirrors each registry change into Redis so that operator tooling
// (wardenctl) can list reviews and stream review events without talking to the bot.
// The bot never reads the ledger back.
//
// # Redis Schema
//
// All Redis keys follow the pattern: warden:{instance_name}:{entity}:{id}
//
// Reviews: warden:{instance_name}:review:{user_id} (hash)
// Review index: warden:{instance_name}:reviews (set of user ids)
// Name cache: warden:{instance_name}:name:{user_id} (string)
//
// Pub/Sub channel: warden:{instance_name}:review_events
//
// # Usage Example
//
//	client, err := ledger.NewClient(&redis.Options{Addr: "localhost:6379"}, "default")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	reviews, err := client.ListReviews(ctx)
package ledger
