/*
Package markov provides order-1 Markov chain models trained on tabular text
data, a stochastic phrase generator with guaranteed termination, and a
caching store that resolves model names to trained models.

Models are trained per source column (one chain per column of a CSV) and
persisted as flat JSON documents. Once loaded, a Model is immutable and safe
to share between concurrent generations.
*/
package markov
