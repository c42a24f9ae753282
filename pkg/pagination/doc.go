// Package pagination walks paginated list endpoints through the fetch-through
// cache.
//
// Pages are JSON arrays. The server announces its position with the
// x-current-page and x-total-pages headers and links the following page in a
// Link header with rel="next".
//
// Sequential iteration:
//
//	list := pagination.New[Canteen](client, url, 24*time.Hour)
//	for batch, err := range list.All(ctx) {
//		if err != nil {
//			return err
//		}
//		// use batch
//	}
//
// A list keeps going only while this_page < last_page (missing counters
// count as zero), the page just fetched was not empty and a next link was
// present. Any error ends the sequence after it has been yielded.
//
// Parallel draining:
//
//	bf := pagination.NewBatchFetcher(client, pagination.DefaultConfig())
//	items, err := pagination.FetchAll[Canteen](ctx, bf, url, ttl)
//
// The batch fetcher reads the first page to learn the page count and then
// requests the remaining pages concurrently by rewriting the page query
// parameter. It is only suitable for APIs that accept that parameter.
package pagination
