/*
Package templating composes generated phrases into output rows, either by
positional joining or by substituting numbered placeholders ($1, $2, ...)
in a caller-supplied template.

Templates are trusted structure; generated phrases are data, escaped for
the target display context through an EscapeFunc chosen by the caller.
*/
package templating
