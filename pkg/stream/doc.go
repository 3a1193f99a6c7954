// Package stream implements a consumer-group client over Redis Streams.
//
// A Client owns one consumer identity inside one consumer group. It can
// publish entries, create groups idempotently, and consume a merged feed of
// brand-new entries (XREADGROUP) and abandoned entries that another consumer
// claimed but never acknowledged (XAUTOCLAIM).
//
//	client := stream.New(rdb, "my-group")
//	if err := client.Initialize(ctx, []string{"orders"}); err != nil {
//	    return err
//	}
//	sub := client.Consume(ctx, []string{"orders"})
//	defer sub.Close()
//	for msg := range sub.Messages() {
//	    handle(msg.Data())
//	    if err := msg.Ack(ctx); err != nil {
//	        return err
//	    }
//	}
//	return sub.Err()
//
// Delivery is at-least-once: an entry reclaimed after the idle threshold may
// be observed by two consumers if the first one acknowledges late.
package stream
