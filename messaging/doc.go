// Package messaging implements request/response over an AMQP topic
// exchange: a Broker publishes requests carrying a correlation id and the
// name of its private reply queue, and a Dispatcher matches every reply
// back to the request that caused it.
//
// Each request receives zero or more data events, then exactly one of
// success or error, then finalize. This holds when the connection dies
// (the error is CodeConnectionLost) and when the broker is closed with
// requests in flight (CodeBrokerClosed).
//
// Example usage:
//
//	broker, err := messaging.Bind(ctx, addr,
//		messaging.WithDialer(dialer),
//		messaging.WithExchange("amq.topic"),
//		messaging.WithHeartbeat(10*time.Second),
//		messaging.WithFatalErrorHandler(func(err error) {
//			log.Printf("connection lost: %v", err)
//		}),
//	)
//	if err != nil {
//		return err
//	}
//	defer broker.Close()
//	broker.Run()
//
//	broker.Fetch(map[string]int{"q": 1}, "weather.today").
//		OnData(func(data contracts.Payload) { fmt.Println(data) }).
//		OnError(func(code int, message string) { fmt.Println(code, message) }).
//		OnSuccess(func() { fmt.Println("done") }).
//		OnFinalize(func() { wg.Done() }).
//		Send(ctx)
//
// Handlers run on the broker's single I/O goroutine. They must return
// promptly and must not call Broker.Close.
package messaging
